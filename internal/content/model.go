package content

import "time"

// Filetype tags with special meaning to the core.
const (
	FiletypeThumb = "thumb"
	ThumbMime     = "image/png"
)

// Name holds the display name of an item and its parts.
type Name struct {
	Original  string `json:"original" bson:"original"`
	Filename  string `json:"filename" bson:"filename"`
	Extension string `json:"extension" bson:"extension"`
}

// VirusStatus is written by the external scanner. Run is false until the
// item has been scanned.
type VirusStatus struct {
	Detected    bool   `json:"detected" bson:"detected"`
	Description string `json:"description,omitempty" bson:"description,omitempty"`
	Run         bool   `json:"run" bson:"run"`
}

// Metadata holds the classification, expiry and counters of an item.
type Metadata struct {
	Mime      string      `json:"mime" bson:"mime"`
	Encoding  string      `json:"encoding,omitempty" bson:"encoding,omitempty"`
	Filetype  string      `json:"filetype" bson:"filetype"`
	ExpiresAt *time.Time  `json:"expires_at,omitempty" bson:"expiresAt,omitempty"`
	Expired   bool        `json:"expired" bson:"expired"`
	Virus     VirusStatus `json:"virus" bson:"virus"`
	Views     int64       `json:"views" bson:"views"`
}

// StorageRef locates an item's bytes in a blob store.
type StorageRef struct {
	ID       string `json:"id" bson:"id"`
	Kind     string `json:"kind" bson:"kind"`
	Bucket   string `json:"bucket" bson:"bucket"`
	Folder   string `json:"folder" bson:"folder"`
	Filename string `json:"filename" bson:"filename"`
	Filepath string `json:"filepath" bson:"filepath"`
}

// IsZero reports whether the reference points nowhere (e.g. URL items).
func (s StorageRef) IsZero() bool {
	return s.Kind == "" && s.Filepath == ""
}

// References are the graph edges of an item. Thumb and Canonical hold item
// ids; the empty string means unset.
type References struct {
	Storage   StorageRef `json:"storage" bson:"storage"`
	Thumb     string     `json:"thumb,omitempty" bson:"thumb,omitempty"`
	Canonical string     `json:"canonical,omitempty" bson:"canonical,omitempty"`
}

// Record is the persisted shape of a content item.
type Record struct {
	ID         string     `json:"id" bson:"_id"`
	Name       Name       `json:"name" bson:"name"`
	Metadata   Metadata   `json:"metadata" bson:"metadata"`
	References References `json:"references" bson:"references"`
	Owner      string     `json:"owner" bson:"owner"`
	Deleted    bool       `json:"deleted" bson:"deleted"`
	CreatedAt  time.Time  `json:"created_at" bson:"createdAt"`
}
