package media

import (
	"path/filepath"
	"strings"
)

// fallbackContentType is used when nothing stronger is known. An unknown type
// never fails an import.
const fallbackContentType = "application/octet-stream"

// extension lookup table covering the media types the remote sources serve
var contentTypesByExt = map[string]string{
	// images
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".gif":  "image/gif",
	".webp": "image/webp",
	".svg":  "image/svg+xml",
	".bmp":  "image/bmp",
	".tif":  "image/tiff",
	".tiff": "image/tiff",
	// video
	".mp4":  "video/mp4",
	".m4v":  "video/x-m4v",
	".mov":  "video/quicktime",
	".avi":  "video/x-msvideo",
	".wmv":  "video/x-ms-wmv",
	".mkv":  "video/x-matroska",
	".webm": "video/webm",
	// audio
	".mp3":  "audio/mpeg",
	".m4a":  "audio/mp4",
	".ogg":  "audio/ogg",
	".wav":  "audio/wav",
	".flac": "audio/flac",
	// documents
	".pdf":  "application/pdf",
	".doc":  "application/msword",
	".docx": "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	".xls":  "application/vnd.ms-excel",
	".xlsx": "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	".ppt":  "application/vnd.ms-powerpoint",
	".pptx": "application/vnd.openxmlformats-officedocument.presentationml.presentation",
	".txt":  "text/plain",
	".rtf":  "application/rtf",
	".epub": "application/epub+zip",
	// archives
	".zip": "application/zip",
	".rar": "application/vnd.rar",
	".7z":  "application/x-7z-compressed",
	".gz":  "application/gzip",
	".tar": "application/x-tar",
}

// DetectContentType picks the strongest available signal: the descriptor's
// explicit MIME type, then the filename extension, then a binary fallback.
func DetectContentType(declaredMime, filename string) string {
	if declaredMime != "" {
		return declaredMime
	}

	ext := strings.ToLower(filepath.Ext(filename))
	if ct, ok := contentTypesByExt[ext]; ok {
		return ct
	}

	return fallbackContentType
}

// isImage reports whether a content type is a raster image we can thumbnail.
func isImage(contentType string) bool {
	switch contentType {
	case "image/jpeg", "image/png", "image/gif":
		return true
	}
	return false
}
