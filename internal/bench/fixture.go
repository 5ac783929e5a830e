package bench

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"

	"github.com/secgraph/secgraph/internal/config"
	"github.com/secgraph/secgraph/pkg/models"
)

// Fixture is a deterministic synthetic evidence corpus. The same seed and
// sizing always produce the same envelopes, so harness runs are comparable
// across revisions.
type Fixture struct {
	Inventory models.EvidenceEnvelope
	Framework models.EvidenceEnvelope
	Threats   models.EvidenceEnvelope
	Findings  []models.EvidenceEnvelope

	// Probe identifiers for the query stages, drawn from the generated
	// population.
	CWEIDs     []string
	CVEIDs     []string
	ControlIDs []string
}

var strideCategories = []models.StrideCategory{
	models.StrideSpoofing,
	models.StrideTampering,
	models.StrideRepudiation,
	models.StrideInfoDisclosure,
	models.StrideDenialOfService,
	models.StrideElevation,
}

var severities = []models.Severity{
	models.SeverityCritical,
	models.SeverityHigh,
	models.SeverityMedium,
	models.SeverityLow,
}

var criticalities = []models.Criticality{
	models.CriticalityCritical,
	models.CriticalityHigh,
	models.CriticalityMedium,
	models.CriticalityLow,
}

// GenerateFixture builds a synthetic corpus sized by cfg. Dependencies only
// point from lower-index services to higher-index ones, so the inventory is
// acyclic by construction.
func GenerateFixture(cfg config.BenchConfig) *Fixture {
	rng := rand.New(rand.NewSource(cfg.Seed))
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	cweCount := cfg.Controls * 2
	if cweCount < 10 {
		cweCount = 10
	}
	cweIDs := make([]string, cweCount)
	for i := range cweIDs {
		cweIDs[i] = fmt.Sprintf("CWE-%d", 20+i*7)
	}

	f := &Fixture{CWEIDs: cweIDs}

	serviceIDs := make([]string, cfg.Services)
	services := make([]models.ServiceEntry, cfg.Services)
	for i := range services {
		serviceIDs[i] = fmt.Sprintf("svc-%04d", i)
		entry := models.ServiceEntry{
			ServiceID:   serviceIDs[i],
			Name:        fmt.Sprintf("service-%04d", i),
			Criticality: criticalities[rng.Intn(len(criticalities))],
			Owner:       fmt.Sprintf("team-%d", rng.Intn(12)),
			Status:      "active",
		}
		// Up to three edges per service, all pointing forward.
		for d := 0; d < 3 && i+1 < cfg.Services; d++ {
			if rng.Float64() > 0.6 {
				continue
			}
			target := i + 1 + rng.Intn(cfg.Services-i-1)
			entry.DependsOn = append(entry.DependsOn, models.DependencyRef{
				ServiceID: serviceIDs[target],
			})
		}
		services[i] = entry
	}
	f.Inventory = envelope(models.SourceServiceInventory, base,
		models.ServiceInventoryPayload{Services: services})

	controls := make([]models.ControlEntry, cfg.Controls)
	f.ControlIDs = make([]string, cfg.Controls)
	for i := range controls {
		f.ControlIDs[i] = fmt.Sprintf("AC-%d", i+1)
		violating := make([]models.CWEViolation, 0, 3)
		for v := 0; v < 3; v++ {
			violating = append(violating, models.CWEViolation{
				CWEID:    cweIDs[rng.Intn(len(cweIDs))],
				Severity: severities[rng.Intn(len(severities))],
			})
		}
		controls[i] = models.ControlEntry{
			ControlID:     f.ControlIDs[i],
			Title:         fmt.Sprintf("Access control requirement %d", i+1),
			Status:        models.ControlStatusImplemented,
			ViolatingCWEs: violating,
		}
	}
	f.Framework = envelope(models.SourceControlFramework, base,
		models.ControlFrameworkPayload{
			Framework: models.FrameworkNIST80053,
			Controls:  controls,
		})

	threats := make([]models.ThreatEntry, cfg.Threats)
	for i := range threats {
		entry := models.ThreatEntry{
			ThreatID:       fmt.Sprintf("T-%03d", i+1),
			StrideCategory: strideCategories[i%len(strideCategories)],
			Title:          fmt.Sprintf("Modeled threat %d", i+1),
			Likelihood:     rng.Float64(),
			Impact:         rng.Float64(),
		}
		for m := 0; m < 2; m++ {
			entry.MitigatingControls = append(entry.MitigatingControls, models.ControlMitigationRef{
				ControlID:  f.ControlIDs[rng.Intn(len(f.ControlIDs))],
				Coverage:   models.CoveragePartial,
				Confidence: 0.5 + rng.Float64()/2,
			})
		}
		for s := 0; s < 2; s++ {
			entry.AffectedServices = append(entry.AffectedServices, models.ServiceExposure{
				ServiceID:  serviceIDs[rng.Intn(len(serviceIDs))],
				Likelihood: rng.Float64(),
			})
		}
		threats[i] = entry
	}
	f.Threats = envelope(models.SourceThreatModel, base,
		models.ThreatModelPayload{Threats: threats})

	f.Findings = make([]models.EvidenceEnvelope, cfg.Findings)
	for i := range f.Findings {
		payload := models.SARIFFindingPayload{
			FindingID:     fmt.Sprintf("finding-%06d", i),
			Title:         fmt.Sprintf("Synthetic finding %d", i),
			Severity:      severities[rng.Intn(len(severities))],
			CVSSScore:     rng.Float64() * 10,
			EPSSScore:     rng.Float64(),
			FirstSeen:     base.Add(time.Duration(i) * time.Minute),
			Status:        models.FindingStatusOpen,
			Tool:          "synthetic-scanner",
			CWEID:         cweIDs[rng.Intn(len(cweIDs))],
			CWEConfidence: 0.5 + rng.Float64()/2,
			ServiceID:     serviceIDs[rng.Intn(len(serviceIDs))],
			Impact:        "vulnerable",
		}
		// Roughly one finding in ten correlates with a public CVE.
		if i%10 == 0 {
			payload.CVE = &models.CVEIntel{
				CVEID:         fmt.Sprintf("CVE-2025-%04d", 1000+i/10),
				CWEID:         payload.CWEID,
				CVSSV3:        payload.CVSSScore,
				EPSS:          payload.EPSSScore,
				PublishedDate: base,
				IsExploited:   rng.Float64() > 0.8,
			}
			f.CVEIDs = append(f.CVEIDs, payload.CVE.CVEID)
		}
		f.Findings[i] = envelope(models.SourceSARIF, base.Add(time.Duration(i)*time.Second), payload)
	}

	return f
}

// WeaknessTaxonomy returns CWE nodes for every identifier the fixture
// references, for seeding before the load stage.
func (f *Fixture) WeaknessTaxonomy() []models.CWE {
	cwes := make([]models.CWE, len(f.CWEIDs))
	for i, id := range f.CWEIDs {
		cwes[i] = models.CWE{
			CWEID: id,
			Title: fmt.Sprintf("Synthetic weakness %s", id),
		}
	}
	return cwes
}

func envelope(source models.SourceType, ts time.Time, payload interface{}) models.EvidenceEnvelope {
	raw, _ := json.Marshal(payload)
	return models.EvidenceEnvelope{
		EvidenceID:     uuid.NewString(),
		SourceType:     source,
		Timestamp:      ts,
		StructuredData: raw,
	}
}
