package ctl

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"keysync/services/reconcile"
)

// ApplyConfig configures a manifest apply.
type ApplyConfig struct {
	Manifest *Manifest
	API      *APIClient
	Stdout   io.Writer
}

// ApplySummary counts per-item outcomes.
type ApplySummary struct {
	ClientsOK     int
	ClientsFailed int
	RolesOK       int
	RolesFailed   int
}

// Failed reports whether any item failed.
func (s ApplySummary) Failed() bool { return s.ClientsFailed > 0 || s.RolesFailed > 0 }

// ErrPartialApply is returned when the API accepted the batches but some
// items failed.
var ErrPartialApply = errors.New("some manifest items failed")

// Apply sends the manifest's clients, then its role assignments, printing one
// line per item.
func Apply(ctx context.Context, cfg ApplyConfig) (ApplySummary, error) {
	var sum ApplySummary
	if cfg.Manifest == nil {
		return sum, errors.New("manifest is required")
	}
	if cfg.API == nil {
		return sum, errors.New("api client is required")
	}
	if cfg.Stdout == nil {
		cfg.Stdout = os.Stdout
	}

	if len(cfg.Manifest.Clients) > 0 {
		results, err := cfg.API.ApplyClients(ctx, cfg.Manifest.Clients)
		if err != nil {
			return sum, fmt.Errorf("apply clients: %w", err)
		}
		for _, r := range results {
			if r.Status == reconcile.StatusSuccess {
				sum.ClientsOK++
				fmt.Fprintf(cfg.Stdout, "client %s: %s\n", r.ClientID, r.Message)
				continue
			}
			sum.ClientsFailed++
			fmt.Fprintf(cfg.Stdout, "client %s: FAILED %s\n", r.ClientID, r.Details)
		}
	}

	for _, ra := range cfg.Manifest.Roles {
		batches, err := cfg.API.CreateRoles(ctx, ra.Clients, ra.Roles)
		if err != nil {
			return sum, fmt.Errorf("create roles: %w", err)
		}
		for _, clientID := range ra.Clients {
			batch := batches[clientID]
			if batch == nil {
				continue
			}
			for _, r := range batch.Created {
				sum.RolesOK++
				fmt.Fprintf(cfg.Stdout, "role %s/%s: created\n", clientID, r.Name)
			}
			for _, r := range batch.Reactivated {
				sum.RolesOK++
				fmt.Fprintf(cfg.Stdout, "role %s/%s: reactivated\n", clientID, r.Name)
			}
			for _, f := range batch.Failed {
				sum.RolesFailed++
				fmt.Fprintf(cfg.Stdout, "role %s/%s: FAILED %s\n", clientID, f.Name, f.Reason)
			}
		}
	}

	if sum.Failed() {
		return sum, ErrPartialApply
	}
	return sum, nil
}
