package certify

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/signetcrm/server/internal/model"
)

// SignerMeta is the client metadata bound into the certificate.
type SignerMeta struct {
	SignerName  string
	SignerEmail string
	SignedAt    time.Time
	IPAddress   string
	UserAgent   string
}

// Certifier persists a rendered artifact, digests it and writes the
// certificate record binding signer identity to the digest.
type Certifier struct {
	renderer Renderer
	store    FileStore
}

// NewCertifier creates a Certifier.
func NewCertifier(renderer Renderer, store FileStore) *Certifier {
	return &Certifier{renderer: renderer, store: store}
}

// DocumentPath returns where the rendered artifact for a request lives.
func DocumentPath(requestID uuid.UUID) string {
	return fmt.Sprintf("signatures/%s/document.txt", requestID)
}

// CertificatePath returns where the certificate record for a request lives.
func CertificatePath(requestID uuid.UUID) string {
	return fmt.Sprintf("signatures/%s/certificate.json", requestID)
}

// Render produces the artifact bytes for the given kind and data.
func (c *Certifier) Render(kind string, data map[string]string) ([]byte, error) {
	return c.renderer.Render(kind, data)
}

// Certify persists the artifact, computes its digest over the exact persisted
// bytes, and writes the certificate record. The digest is computed from a
// re-read of the stored file so it always matches what readers will download.
func (c *Certifier) Certify(ctx context.Context, requestID uuid.UUID, artifact []byte, meta SignerMeta) (model.Certificate, string, error) {
	docPath := DocumentPath(requestID)
	if err := c.store.Write(docPath, artifact); err != nil {
		return model.Certificate{}, "", fmt.Errorf("persist artifact: %w", err)
	}

	persisted, err := c.store.Read(docPath)
	if err != nil {
		return model.Certificate{}, "", fmt.Errorf("read back artifact: %w", err)
	}

	sum := sha256.Sum256(persisted)
	digestHex := hex.EncodeToString(sum[:])

	cert := model.Certificate{
		RequestID:    requestID,
		SignerName:   meta.SignerName,
		SignerEmail:  meta.SignerEmail,
		SignedAt:     meta.SignedAt.UTC(),
		IPAddress:    meta.IPAddress,
		UserAgent:    meta.UserAgent,
		DocumentHash: digestHex,
	}

	certBytes, err := json.MarshalIndent(cert, "", "  ")
	if err != nil {
		return model.Certificate{}, "", fmt.Errorf("marshal certificate: %w", err)
	}
	if err := c.store.Write(CertificatePath(requestID), certBytes); err != nil {
		return model.Certificate{}, "", fmt.Errorf("persist certificate: %w", err)
	}

	return cert, digestHex, nil
}
