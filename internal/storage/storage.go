package storage

import (
	"context"
	"io"
	"time"
)

// CredentialTTL is how long a direct-upload credential stays valid.
const CredentialTTL = 30 * time.Minute

// Provider is the uniform contract every storage backend implements.
// Implementations hold only immutable configuration; any SDK client is
// created and released inside a single call, so a Provider is safe for
// concurrent use.
type Provider interface {
	// Type reports which backend this provider talks to
	Type() UploadType

	// ServerURL returns the configured externally reachable base URL
	ServerURL() string

	// FilePath returns the public URL of key, the same value UploadResult
	// and Credential carry for it.
	FilePath(key string) string

	// UploadStream stores r under a freshly generated key.
	// size is the byte count of r, or -1 when unknown.
	UploadStream(ctx context.Context, fileName string, r io.Reader, size int64) (*UploadResult, error)

	// UploadFile stores the content of an existing local file.
	UploadFile(ctx context.Context, path string) (*UploadResult, error)

	// IssueCredential returns what a remote client needs to upload directly
	IssueCredential(ctx context.Context) (*Credential, error)

	// Delete removes keys and reports one outcome per distinct key.
	Delete(ctx context.Context, keys []string) DeleteResult
}

// UploadResult describes a stored object.
// FilePath is always ComposeURL(serverURL, bucket segment, FileKey).
type UploadResult struct {
	FileName string `json:"fileName"`
	FileKey  string `json:"fileKey"`
	FilePath string `json:"filePath"`
}

// CredentialMethod says how a client is expected to use a Credential.
type CredentialMethod string

const (
	// MethodServer means direct upload is unsupported; send bytes through this service
	MethodServer CredentialMethod = "server"
	// MethodPresignedURL means PUT the bytes to ServerURL
	MethodPresignedURL CredentialMethod = "presigned-url"
	// MethodPostPolicy means POST a form with Policy and Signature to ServerURL
	MethodPostPolicy CredentialMethod = "post-policy"
	// MethodUploadToken means upload to ServerURL authenticating with Token
	MethodUploadToken CredentialMethod = "upload-token"
)

// Credential is a short-lived artifact that lets a client write straight to a backend.
type Credential struct {
	UploadType UploadType       `json:"uploadType"`
	Method     CredentialMethod `json:"method"`
	ServerURL  string           `json:"serverUrl,omitempty"`
	Bucket     string           `json:"bucket,omitempty"`
	AccessKey  string           `json:"accessKey,omitempty"`
	FileKey    string           `json:"fileKey,omitempty"`
	Token      string           `json:"fileToken,omitempty"`
	Policy     string           `json:"policy,omitempty"`
	Signature  string           `json:"signature,omitempty"`
	FilePath   string           `json:"filePath,omitempty"`
	ExpiresAt  time.Time        `json:"expiresAt,omitzero"`
}

// ServerMediated builds the credential returned by backends without direct upload.
func ServerMediated(t UploadType) *Credential {
	return &Credential{UploadType: t, Method: MethodServer}
}

// Direct reports whether the client may bypass this service.
func (c *Credential) Direct() bool {
	return c.Method != MethodServer
}
