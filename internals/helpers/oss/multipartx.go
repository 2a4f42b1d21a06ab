package helper

import (
	"mime/multipart"
)

// ==============================
// File collector
// ==============================

type CollectOptions struct {
	// Urutan kandidat nama field multipart untuk file (boleh kosong -> pakai default)
	FileFieldCandidates []string
}

// Default kandidat nama field yg umum dipakai FE/Postman
var defaultFileFieldCandidates = []string{
	"file", "files[]", "files",
	"attachments[]", "attachments",
}

// CollectUploadFiles mengumpulkan semua *FileHeader dari form multipart,
// dengan urutan preferensi berdasarkan kandidat field yang diberikan.
// Mengembalikan: daftar file dan daftar key yang dipakai.
func CollectUploadFiles(form *multipart.Form, opt *CollectOptions) (out []*multipart.FileHeader, usedKeys []string) {
	if form == nil || form.File == nil {
		return nil, nil
	}
	candidates := defaultFileFieldCandidates
	if opt != nil && len(opt.FileFieldCandidates) > 0 {
		candidates = opt.FileFieldCandidates
	}

	seen := map[string]bool{}
	for _, key := range candidates {
		if fhs, ok := form.File[key]; ok && len(fhs) > 0 {
			usedKeys = append(usedKeys, key)
			for _, fh := range fhs {
				if fh != nil && fh.Filename != "" {
					out = append(out, fh)
				}
			}
			seen[key] = true
		}
	}
	// sweep semua key lain
	for key, fhs := range form.File {
		if seen[key] || len(fhs) == 0 {
			continue
		}
		hasFile := false
		for _, fh := range fhs {
			if fh != nil && fh.Filename != "" {
				out = append(out, fh)
				hasFile = true
			}
		}
		if hasFile {
			usedKeys = append(usedKeys, key)
		}
	}
	return out, usedKeys
}
