package core

// PocketState exposes the persistence context for observability.
type PocketState struct {
	State      string         `json:"state"`
	Source     string         `json:"source"`
	Loading    bool           `json:"loading"`
	Tracked    int            `json:"tracked"`
	Types      map[string]int `json:"types"`
	Unresolved int            `json:"unresolved"`
	LoadError  string         `json:"load_error,omitempty"`
	Objects    string         `json:"objects_store"`
	Blobs      string         `json:"blob_store"`
}
