package valkey

import (
	"context"
	"fmt"
	"time"

	"github.com/giantswarm/oauth-engine/storage"
)

// ClientRepository implements storage.ClientRepository.
type ClientRepository struct{ s *Store }

// Find returns the client or storage.ErrClientNotFound.
func (r *ClientRepository) Find(ctx context.Context, clientID string) (*storage.Client, error) {
	if err := validateID(clientID); err != nil {
		return nil, storage.ErrClientNotFound
	}

	client := &storage.Client{}
	if err := r.s.get(ctx, r.s.clientKey(clientID), client, storage.ErrClientNotFound); err != nil {
		return nil, err
	}
	return client, nil
}

// Save stores the client without TTL.
func (r *ClientRepository) Save(ctx context.Context, client *storage.Client) error {
	if client == nil {
		return fmt.Errorf("invalid client")
	}
	if err := validateID(client.ID()); err != nil {
		return fmt.Errorf("invalid client: %w", err)
	}

	if err := r.s.put(ctx, r.s.clientKey(client.ID()), client, time.Time{}); err != nil {
		return fmt.Errorf("failed to save client: %w", err)
	}

	r.s.logger.Debug("Saved client", "client_id", client.ID())
	return nil
}
