package main

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/agentguard/agentguard/pkg/agent"
	"github.com/agentguard/agentguard/pkg/config"
	"github.com/agentguard/agentguard/pkg/identity"
	"github.com/agentguard/agentguard/pkg/policy"
	"github.com/google/uuid"
)

// applySeed creates the admins, agents, and agent policies named in a
// bootstrap fixture. An admin or agent whose API key already authenticates
// is skipped, as is one whose create returns agent.ErrAlreadyExists, so a
// seed file left in place across restarts doesn't fail startup.
func applySeed(ctx context.Context, seed *config.SeedFile, agentStore agent.Store, policyStore policy.Store) error {
	if seed == nil {
		return nil
	}

	for _, sa := range seed.Admins {
		if _, found, err := agentStore.VerifyAdminSecret(ctx, sa.APIKey); err != nil {
			return err
		} else if found {
			slog.Info("seed: admin already exists, skipping", "display_name", sa.DisplayName)
			continue
		}
		hash, _ := agent.HashSecret(sa.APIKey)
		a := &agent.AdminUser{
			AdminID:        "adm_" + uuid.NewString(),
			DisplayName:    sa.DisplayName,
			Role:           roleOrDefault(sa.Role),
			Team:           sa.Team,
			CredentialHash: hash,
			IsActive:       true,
		}
		if err := agentStore.CreateAdmin(ctx, a); err != nil {
			if errors.Is(err, agent.ErrAlreadyExists) {
				slog.Info("seed: admin already exists, skipping", "display_name", sa.DisplayName)
				continue
			}
			return err
		}
		slog.Info("seed: created admin", "admin_id", a.AdminID, "display_name", sa.DisplayName)
	}

	for _, sagt := range seed.Agents {
		if _, found, err := agentStore.VerifyAgentSecret(ctx, sagt.APIKey); err != nil {
			return err
		} else if found {
			slog.Info("seed: agent already exists, skipping", "display_name", sagt.DisplayName)
			continue
		}
		now := time.Now()
		a := &agent.Agent{
			AgentID:     "agt_" + uuid.NewString(),
			DisplayName: sagt.DisplayName,
			OwnerTeam:   sagt.OwnerTeam,
			Environment: agent.Environment(envOrDefault(sagt.Environment)),
			IsActive:    true,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := agentStore.CreateAgent(ctx, a); err != nil {
			if errors.Is(err, agent.ErrAlreadyExists) {
				slog.Info("seed: agent already exists, skipping", "display_name", sagt.DisplayName)
				continue
			}
			return err
		}

		hash, prefix := agent.HashSecret(sagt.APIKey)
		if err := agentStore.SetCredential(ctx, a.AgentID, hash, prefix); err != nil {
			return err
		}

		if err := policyStore.PutAgentPolicy(ctx, &policy.AgentPolicy{
			AgentID:         a.AgentID,
			Allow:           toRules(sagt.Allow),
			Deny:            toRules(sagt.Deny),
			RequireApproval: toRules(sagt.Approval),
			SchemaVersion:   policy.CurrentSchemaVersion,
		}); err != nil {
			return err
		}

		slog.Info("seed: created agent", "agent_id", a.AgentID, "display_name", sagt.DisplayName)
	}

	return nil
}

func toRules(in []config.SeedRule) []policy.Rule {
	if len(in) == 0 {
		return nil
	}
	out := make([]policy.Rule, len(in))
	for i, r := range in {
		out[i] = policy.Rule{Action: r.Action, Resource: r.Resource}
	}
	return out
}

func roleOrDefault(raw string) identity.AdminRole {
	if raw == "" {
		return identity.RoleAdmin
	}
	return identity.AdminRole(raw)
}

func envOrDefault(raw string) string {
	if raw == "" {
		return string(agent.EnvDev)
	}
	return raw
}
