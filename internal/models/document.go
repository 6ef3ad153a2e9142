package models

import "time"

// StoredDocument is a PDF retained under the storage directory, keyed
// by filename. Same-named uploads overwrite (last writer wins).
type StoredDocument struct {
	FileName string    `json:"file_name"`
	Path     string    `json:"path"`
	Size     int64     `json:"size"`
	ModTime  time.Time `json:"mod_time"`
}

// RemoteFile describes a URL target after the metadata probe, before
// any bytes have been transferred.
type RemoteFile struct {
	URL      string `json:"url"`
	FileName string `json:"file_name"`
	Size     int64  `json:"size"` // -1 when the server did not advertise a length
}
