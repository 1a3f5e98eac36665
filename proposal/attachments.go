package proposal

import (
	"fmt"

	"github.com/google/uuid"

	"covm/auth"
	"covm/storage"
)

func attachmentKey(id, name string) string { return fmt.Sprintf("proposals/%s/attachments/%s", id, name) }
func attachmentsPrefix(id string) string   { return fmt.Sprintf("proposals/%s/attachments/", id) }

// NewAttachmentName generates a collision-resistant name for callers that
// don't have a natural one (e.g. a pasted image), so the generated key
// still fits the `proposals/{id}/attachments/{name}` schema.
func NewAttachmentName() string {
	return uuid.NewString()
}

// SaveAttachment writes arbitrary bytes at `proposals/{id}/attachments/{name}`.
func SaveAttachment(ac *auth.Context, engine *storage.Engine, proposalID, name string, data []byte) error {
	if _, err := engine.Set(ac, governanceNamespace, attachmentKey(proposalID, name), data); err != nil {
		return errStorage("SaveAttachment", err)
	}
	return nil
}

// LoadAttachment reads back the bytes stored under a given attachment name.
func LoadAttachment(ac *auth.Context, engine *storage.Engine, proposalID, name string) ([]byte, error) {
	data, err := engine.Get(ac, governanceNamespace, attachmentKey(proposalID, name))
	if err != nil {
		return nil, errStorage("LoadAttachment", err)
	}
	return data, nil
}

// ListAttachments returns the names of every attachment stored against a
// proposal, lexicographically ordered.
func ListAttachments(ac *auth.Context, engine *storage.Engine, proposalID string) ([]string, error) {
	prefix := attachmentsPrefix(proposalID)
	keys, err := engine.ListKeys(ac, governanceNamespace, prefix)
	if err != nil {
		return nil, errStorage("ListAttachments", err)
	}
	names := make([]string, len(keys))
	for i, k := range keys {
		names[i] = k[len(prefix):]
	}
	return names, nil
}
