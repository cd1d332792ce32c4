// Package protocol adapts an asynchronous control-message stream onto
// the collection manager. Each inbound message becomes one task that
// emits a bounded sequence of outbound events.
package protocol

// Inbound message kinds.
const (
	MsgAddColl    = "addColl"
	MsgCancelLoad = "cancelLoad"
	MsgRemoveColl = "removeColl"
	MsgListAll    = "listAll"
	MsgReload     = "reload"
)

// Outbound message kinds.
const (
	MsgCollProgress = "collProgress"
	MsgCollAdded    = "collAdded"
)

// Error strings carried by progress events.
const (
	ErrPermissionNeeded   = "permission_needed"
	ErrInvalidLoadRequest = "Invalid Load Request"
	unexpectedErrorPrefix = "An unexpected error occured: "
)

// Request is an inbound control message. The message kind travels in
// msg_type; type carries the collection type of an addColl.
type Request struct {
	MsgType        string         `json:"msg_type"`
	Name           string         `json:"name"`
	SkipExisting   bool           `json:"skipExisting,omitempty"`
	File           *FileSpec      `json:"file,omitempty"`
	Type           string         `json:"type,omitempty"`
	Root           bool           `json:"root,omitempty"`
	OnDemand       bool           `json:"onDemand,omitempty"`
	TopTemplateURL string         `json:"topTemplateUrl,omitempty"`
	ExtraConfig    map[string]any `json:"extraConfig,omitempty"`
}

// FileSpec is the source of an addColl.
type FileSpec struct {
	SourceURL string            `json:"sourceUrl"`
	Name      string            `json:"name,omitempty"`
	Headers   map[string]string `json:"headers,omitempty"`
}

// Event is an outbound message.
type Event interface {
	Kind() string
}

// ProgressEvent reports add progress or failure. Percent is always sent.
type ProgressEvent struct {
	MsgType     string `json:"msg_type"`
	Name        string `json:"name"`
	Percent     int    `json:"percent"`
	Error       string `json:"error,omitempty"`
	CurrentSize int64  `json:"currentSize,omitempty"`
	TotalSize   int64  `json:"totalSize,omitempty"`
	FileHandle  string `json:"fileHandle,omitempty"`
	ExtraMsg    string `json:"extraMsg,omitempty"`
}

func (ProgressEvent) Kind() string { return MsgCollProgress }

// AddedEvent reports a completed add.
type AddedEvent struct {
	MsgType   string `json:"msg_type"`
	Name      string `json:"name"`
	SourceURL string `json:"sourceUrl"`
}

func (AddedEvent) Kind() string { return MsgCollAdded }

// ListAllEvent lists every collection.
type ListAllEvent struct {
	MsgType string       `json:"msg_type"`
	Colls   []ListedColl `json:"colls"`
}

func (ListAllEvent) Kind() string { return MsgListAll }

// ListedColl is one entry of a ListAllEvent.
type ListedColl struct {
	Name       string `json:"name"`
	Prefix     string `json:"prefix"`
	PageList   []any  `json:"pageList"`
	SourceName string `json:"sourceName"`
}
