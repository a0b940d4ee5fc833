package auditchain

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// SystemPrincipal is recorded for the genesis entry and for actions without an actor.
const SystemPrincipal = "SYSTEM"

// Action is the kind of mutating operation an entry records.
type Action string

const (
	ActionCopyFile               Action = "COPY_FILE"
	ActionCopyFileChild          Action = "COPY_FILE_CHILD"
	ActionRenameFile             Action = "RENAME_FILE"
	ActionRenameFolder           Action = "RENAME_FOLDER"
	ActionCopyFolder             Action = "COPY_FOLDER"
	ActionDeleteFile             Action = "DELETE_FILE"
	ActionDeleteFileChild        Action = "DELETE_FILE_CHILD"
	ActionDeleteFolder           Action = "DELETE_FOLDER"
	ActionCreateFolder           Action = "CREATE_FOLDER"
	ActionMoveFile               Action = "MOVE_FILE"
	ActionMoveFolder             Action = "MOVE_FOLDER"
	ActionUploadDocument         Action = "UPLOAD_DOCUMENT"
	ActionReplaceDocumentContent Action = "REPLACE_DOCUMENT_CONTENT"
	ActionReplaceDocumentMeta    Action = "REPLACE_DOCUMENT_METADATA"
	ActionUpdateDocumentMeta     Action = "UPDATE_DOCUMENT_METADATA"
	ActionDownloadDocument       Action = "DOWNLOAD_DOCUMENT"
	ActionDeleteDocumentMeta     Action = "DELETE_DOCUMENT_METADATA"
	ActionShareDocuments         Action = "SHARE_DOCUMENTS"
	ActionShareDocumentCreate    Action = "SHARE_DOCUMENT_CREATE"
	ActionShareDocumentUpdate    Action = "SHARE_DOCUMENT_UPDATE"
	ActionShareDocumentDelete    Action = "SHARE_DOCUMENT_DELETE"
	ActionRestoreFile            Action = "RESTORE_FILE"
	ActionRestoreFolder          Action = "RESTORE_FOLDER"
	ActionPermanentDeleteFile    Action = "PERMANENT_DELETE_FILE"
	ActionPermanentDeleteFolder  Action = "PERMANENT_DELETE_FOLDER"
	ActionCommentCreate          Action = "COMMENT_CREATE"
	ActionCommentUpdate          Action = "COMMENT_UPDATE"
	ActionCommentDelete          Action = "COMMENT_DELETE"
	ActionEmptyRecycleBin        Action = "EMPTY_RECYCLE_BIN"

	// ActionChainGenesis is reserved for the root entry of the chain.
	ActionChainGenesis Action = "CHAIN_GENESIS"
)

var knownActions = map[Action]struct{}{
	ActionCopyFile: {}, ActionCopyFileChild: {}, ActionRenameFile: {}, ActionRenameFolder: {},
	ActionCopyFolder: {}, ActionDeleteFile: {}, ActionDeleteFileChild: {}, ActionDeleteFolder: {},
	ActionCreateFolder: {}, ActionMoveFile: {}, ActionMoveFolder: {}, ActionUploadDocument: {},
	ActionReplaceDocumentContent: {}, ActionReplaceDocumentMeta: {}, ActionUpdateDocumentMeta: {},
	ActionDownloadDocument: {}, ActionDeleteDocumentMeta: {}, ActionShareDocuments: {},
	ActionShareDocumentCreate: {}, ActionShareDocumentUpdate: {}, ActionShareDocumentDelete: {},
	ActionRestoreFile: {}, ActionRestoreFolder: {}, ActionPermanentDeleteFile: {},
	ActionPermanentDeleteFolder: {}, ActionCommentCreate: {}, ActionCommentUpdate: {},
	ActionCommentDelete: {}, ActionEmptyRecycleBin: {}, ActionChainGenesis: {},
}

// Valid reports whether a is a known action kind.
func (a Action) Valid() bool {
	_, ok := knownActions[a]
	return ok
}

// ParseAction converts s (case-insensitive) to an Action.
func ParseAction(s string) (Action, error) {
	a := Action(strings.ToUpper(strings.TrimSpace(s)))
	if !a.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownAction, s)
	}
	return a, nil
}

// ParseActions converts a list of names, failing on the first unknown one.
func ParseActions(names []string) ([]Action, error) {
	out := make([]Action, 0, len(names))
	for _, n := range names {
		if strings.TrimSpace(n) == "" {
			continue
		}
		a, err := ParseAction(n)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}

// AllActions returns every known action kind in lexical order.
func AllActions() []Action {
	out := make([]Action, 0, len(knownActions))
	for a := range knownActions {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// ResourceType identifies the kind of object an action targeted.
type ResourceType string

const (
	ResourceFile   ResourceType = "FILE"
	ResourceFolder ResourceType = "FOLDER"
)

// ParseResourceType accepts "", FILE or FOLDER (case-insensitive).
func ParseResourceType(s string) (ResourceType, error) {
	switch rt := ResourceType(strings.ToUpper(strings.TrimSpace(s))); rt {
	case "", ResourceFile, ResourceFolder:
		return rt, nil
	default:
		return "", fmt.Errorf("unknown resource type %q", s)
	}
}

// SortOrder controls the ordering of query results.
type SortOrder string

const (
	SortAsc  SortOrder = "ASC"
	SortDesc SortOrder = "DESC"
)

// ParseSortOrder returns def when s is empty.
func ParseSortOrder(s string, def SortOrder) (SortOrder, error) {
	switch o := SortOrder(strings.ToUpper(strings.TrimSpace(s))); o {
	case "":
		return def, nil
	case SortAsc, SortDesc:
		return o, nil
	default:
		return "", fmt.Errorf("sort order must be ASC or DESC, got %q", s)
	}
}

// Entry is a single link of the audit chain.
type Entry struct {
	ID            int64          `json:"id"`
	Timestamp     time.Time      `json:"timestamp"`
	UserPrincipal string         `json:"userPrincipal"`
	Action        Action         `json:"action"`
	ResourceType  ResourceType   `json:"resourceType,omitempty"`
	ResourceID    string         `json:"resourceId,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
	PreviousHash  string         `json:"previousHash"`
	Hash          string         `json:"hash"`
}

// Descriptor is what a collaborator hands to the appender when it performs an action.
type Descriptor struct {
	Action        Action
	ResourceType  ResourceType
	ResourceID    string
	UserPrincipal string
	Metadata      map[string]any
	Timestamp     time.Time // zero means now
}

// timeNow is replaced in tests that need deterministic timestamps.
var timeNow = time.Now

// normalizeTime drops everything below millisecond precision, which is what the
// hash covers and what every store can represent exactly.
func normalizeTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Millisecond)
}
