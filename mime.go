// Copyright 2013 The imageproxy authors.
// SPDX-License-Identifier: Apache-2.0

package camomile

// allowedMimeTypes is the exact-match set of lowercase image media types a
// 2xx response's Content-Type must belong to (spec.md §6.5). Matching is
// exact string equality — no parameter stripping, no globbing — unlike the
// teacher's glob-based contentTypeMatches in imageproxy.go.
var allowedMimeTypes = map[string]bool{
	"image/bmp":                       true,
	"image/cgm":                       true,
	"image/g3fax":                     true,
	"image/gif":                       true,
	"image/ief":                       true,
	"image/jp2":                       true,
	"image/jpeg":                      true,
	"image/jpg":                       true,
	"image/pict":                      true,
	"image/png":                       true,
	"image/prs.btif":                  true,
	"image/svg+xml":                   true,
	"image/tiff":                      true,
	"image/vnd.adobe.photoshop":       true,
	"image/vnd.djvu":                  true,
	"image/vnd.dwg":                   true,
	"image/vnd.dxf":                   true,
	"image/vnd.fastbidsheet":          true,
	"image/vnd.fpx":                   true,
	"image/vnd.fst":                   true,
	"image/vnd.fujixerox.edmics-mmr":  true,
	"image/vnd.fujixerox.edmics-rlc":  true,
	"image/vnd.microsoft.icon":        true,
	"image/vnd.ms-modi":               true,
	"image/vnd.net-fpx":               true,
	"image/vnd.wap.wbmp":              true,
	"image/vnd.xiff":                  true,
	"image/webp":                      true,
	"image/x-cmu-raster":              true,
	"image/x-cmx":                     true,
	"image/x-icon":                    true,
	"image/x-macpaint":                true,
	"image/x-pcx":                     true,
	"image/x-pict":                    true,
	"image/x-portable-anymap":         true,
	"image/x-portable-bitmap":         true,
	"image/x-portable-graymap":        true,
	"image/x-portable-pixmap":         true,
	"image/x-quicktime":               true,
	"image/x-rgb":                     true,
	"image/x-xbitmap":                 true,
	"image/x-xpixmap":                 true,
	"image/x-xwindowdump":             true,
}

func isAllowedMimeType(contentType string) bool {
	return allowedMimeTypes[contentType]
}
