package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/jwalitptl/evv-api/internal/model"
	"github.com/jwalitptl/evv-api/internal/repository"
)

type directoryRepository struct {
	s *Store
}

func (r *directoryRepository) GetCaregivers(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*model.Caregiver, error) {
	out := make(map[uuid.UUID]*model.Caregiver, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	query := `
		SELECT id, organization_id, name, provider_id
		FROM caregivers
		WHERE id = ANY($1)
	`
	var rows []*model.Caregiver
	if err := r.s.selectAll(ctx, "caregiver_batch_get", &rows, query, idStrings(repository.UniqueIDs(ids))); err != nil {
		return nil, fmt.Errorf("failed to load caregivers: %w", err)
	}
	for _, c := range rows {
		out[c.ID] = c
	}
	return out, nil
}

func (r *directoryRepository) GetClients(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*model.Client, error) {
	out := make(map[uuid.UUID]*model.Client, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	query := `
		SELECT id, organization_id, name, payer_id, payer_name
		FROM clients
		WHERE id = ANY($1)
	`
	var rows []*model.Client
	if err := r.s.selectAll(ctx, "client_batch_get", &rows, query, idStrings(repository.UniqueIDs(ids))); err != nil {
		return nil, fmt.Errorf("failed to load clients: %w", err)
	}
	for _, c := range rows {
		out[c.ID] = c
	}
	return out, nil
}
