package services

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/doeshing/merchat/internal/domain"
	"github.com/doeshing/merchat/internal/ports"
	"github.com/doeshing/merchat/internal/registry"
)

// DoctorService runs environment diagnostics.
type DoctorService struct {
	ConfigProvider  ports.ConfigProvider
	ProviderFactory ports.ProviderFactory
	Registry        *registry.Registry
	DataAccess      ports.DataAccess
	Judge           ports.SecurityJudge
}

// Run executes checks and returns a report.
func (s *DoctorService) Run(ctx context.Context) (domain.HealthReport, error) {
	var checks []domain.HealthCheck

	cfg, err := s.ConfigProvider.Load(ctx)
	if err != nil {
		checks = append(checks, fail("Config file", fmt.Sprintf("load failed: %v", err)))
		return domain.HealthReport{Checks: checks}, err
	}
	checks = append(checks, ok("Config file", fmt.Sprintf("loaded %s", cfg.ConfigFormatVersion)))

	checks = append(checks, s.modelCheck(cfg))
	checks = append(checks, apiCheck(cfg.Models))
	checks = append(checks, s.registryCheck())
	checks = append(checks, s.backendCheck(ctx))
	checks = append(checks, s.judgeCheck(ctx))
	checks = append(checks, storageCheck("Cache store", cfg.Cache.L2Path))
	checks = append(checks, storageCheck("Checkpoint store", cfg.State.CheckpointPath))

	return domain.HealthReport{Checks: checks}, nil
}

func (s *DoctorService) modelCheck(cfg domain.Config) domain.HealthCheck {
	model, found := cfg.GetDefaultModel()
	if !found {
		return fail("Default model", "no models configured")
	}
	if _, err := s.ProviderFactory.ForModel(model); err != nil {
		return fail("Default model", err.Error())
	}
	return ok("Default model", fmt.Sprintf("%s via %s", model.Name, model.Endpoint))
}

func (s *DoctorService) registryCheck() domain.HealthCheck {
	names := s.Registry.Names()
	if len(names) == 0 {
		return fail("Action catalog", "no actions registered")
	}
	return ok("Action catalog", fmt.Sprintf("%d action(s): %s", len(names), strings.Join(names, ", ")))
}

func (s *DoctorService) backendCheck(ctx context.Context) domain.HealthCheck {
	hits, err := s.DataAccess.SearchCatalog(ctx, "", nil)
	if err != nil {
		return fail("Commerce backend", err.Error())
	}
	caps := s.DataAccess.Capabilities()
	return ok("Commerce backend", fmt.Sprintf("%d product(s), capabilities %v", len(hits), caps))
}

func (s *DoctorService) judgeCheck(ctx context.Context) domain.HealthCheck {
	verdict := s.Judge.ValidateInput(ctx, "show me laptops", domain.SecurityContext{SessionID: "doctor"})
	if !verdict.Safe {
		return warn("Security judge", fmt.Sprintf("benign probe rejected at %s stage", verdict.Stage))
	}
	return ok("Security judge", "rules loaded, benign probe passed")
}

func storageCheck(name, path string) domain.HealthCheck {
	if path == "" {
		return warn(name, "path not configured, running in-memory only")
	}
	expanded := expandPath(path)
	dir := filepath.Dir(expanded)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fail(name, fmt.Sprintf("cannot create %s: %v", dir, err))
	}
	return ok(name, expanded)
}

func apiCheck(models []domain.ModelDefinition) domain.HealthCheck {
	for _, model := range models {
		if strings.Contains(model.Endpoint, "anthropic.com") {
			if envMissing(model.AuthEnvVar, "ANTHROPIC_API_KEY") {
				return warn("API keys", "ANTHROPIC_API_KEY missing")
			}
		} else if strings.Contains(model.Endpoint, "openai.com") {
			if envMissing(model.AuthEnvVar, "OPENAI_API_KEY") {
				return warn("API keys", "OPENAI_API_KEY missing")
			}
		}
	}
	return ok("API keys", "detected for configured providers")
}

func envMissing(primary, fallback string) bool {
	if primary != "" && os.Getenv(primary) != "" {
		return false
	}
	if fallback != "" && os.Getenv(fallback) != "" {
		return false
	}
	return true
}

func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}

func ok(name, details string) domain.HealthCheck {
	return domain.HealthCheck{Name: name, Status: domain.HealthOK, Details: details}
}

func warn(name, details string) domain.HealthCheck {
	return domain.HealthCheck{Name: name, Status: domain.HealthWarn, Details: details}
}

func fail(name, details string) domain.HealthCheck {
	return domain.HealthCheck{Name: name, Status: domain.HealthError, Details: details}
}
