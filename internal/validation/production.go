// File: internal/validation/production.go
package validation

import (
	"path"
	"strings"

	"github.com/xkilldash9x/crucible/api/schemas"
)

// productionCheck is one deployment-readiness probe. Required checks gate
// the level outright; the rest feed the soft pass ratio.
type productionCheck struct {
	name     string
	required bool
	failText string
	probe    func(in productionInput) bool
}

type productionInput struct {
	capsule *schemas.Capsule
	lang    schemas.SupportedLanguage
	files   map[string]string
	secrets []securityFinding
}

var productionChecks = []productionCheck{
	{
		name:     "container_build",
		required: true,
		failText: "missing container build file (Dockerfile or Containerfile)",
		probe:    hasContainerFile,
	},
	{
		name:     "ci_pipeline",
		failText: "missing CI/CD pipeline configuration",
		probe:    hasCIPipeline,
	},
	{
		name:     "config_management",
		failText: "no externalized configuration (config file or .env template)",
		probe:    hasConfigManagement,
	},
	{
		name:     "logging",
		failText: "no logging detected in source files",
		probe: func(in productionInput) bool {
			return matchAnyFile(in.capsule.SourceFiles, heuristicsByLang[in.lang].logging)
		},
	},
	{
		name:     "error_handling",
		failText: "no error handling detected in source files",
		probe: func(in productionInput) bool {
			return matchAnyFile(in.capsule.SourceFiles, heuristicsByLang[in.lang].errorHandling)
		},
	},
	{
		name:     "no_hardcoded_secrets",
		required: true,
		failText: "hardcoded secrets present",
		probe: func(in productionInput) bool {
			return len(in.secrets) == 0
		},
	},
	{
		name:     "scaling_readiness",
		failText: "no scaling configuration (replicas, autoscaling or instance bounds)",
		probe:    hasScalingConfig,
	},
}

// validateProduction checks deployment readiness. The score is the fraction
// of checks passed; passing additionally requires both required checks and
// enough of the optional ones.
func (v *Validator) validateProduction(c *schemas.Capsule, lang schemas.SupportedLanguage) *schemas.ValidationResult {
	result := &schemas.ValidationResult{
		Level:   schemas.LevelProduction,
		Metrics: map[string]interface{}{},
	}

	in := productionInput{capsule: c, lang: lang, files: c.AllFiles()}
	for _, f := range scanSecurityFindings(in.files) {
		if f.kind == "credential" {
			in.secrets = append(in.secrets, f)
		}
	}

	var problems []string
	passed, softPassed, softTotal := 0, 0, 0
	requiredOK := true
	for _, check := range productionChecks {
		ok := check.probe(in)
		result.Metrics[check.name] = ok
		if ok {
			passed++
		} else {
			problems = append(problems, check.failText)
		}
		if check.required {
			requiredOK = requiredOK && ok
		} else {
			softTotal++
			if ok {
				softPassed++
			}
		}
	}

	// Secret findings carry file and line detail the flat check text lacks.
	for _, f := range in.secrets {
		problems = append(problems, f.text)
	}

	result.Score = float64(passed) / float64(len(productionChecks))
	softRatio := float64(softPassed) / float64(softTotal)
	result.Passed = requiredOK && softRatio >= v.cfg.ProductionPassRatio
	result.Metrics["checks_passed"] = passed
	result.Metrics["checks_total"] = len(productionChecks)

	if result.Passed {
		result.Recommendations = append(result.Recommendations, problems...)
	} else {
		result.Issues = append(result.Issues, problems...)
	}
	return result
}

func hasContainerFile(in productionInput) bool {
	for p := range in.files {
		base := strings.ToLower(path.Base(p))
		if base == "dockerfile" || base == "containerfile" ||
			strings.HasPrefix(base, "docker-compose") ||
			strings.HasSuffix(base, ".dockerfile") {
			return true
		}
	}
	return false
}

func hasCIPipeline(in productionInput) bool {
	for p := range in.files {
		lower := strings.ToLower(p)
		base := path.Base(lower)
		if strings.Contains(lower, ".github/workflows/") ||
			strings.Contains(lower, ".circleci/") ||
			base == ".gitlab-ci.yml" || base == ".gitlab-ci.yaml" ||
			base == "jenkinsfile" || base == ".travis.yml" ||
			base == "azure-pipelines.yml" || base == "bitbucket-pipelines.yml" {
			return true
		}
	}
	return false
}

func hasConfigManagement(in productionInput) bool {
	if len(in.capsule.DeploymentConfig) > 0 {
		return true
	}
	for p := range in.files {
		base := strings.ToLower(path.Base(p))
		if base == ".env.example" || base == ".env.sample" || base == ".env.template" {
			return true
		}
		stem := strings.TrimSuffix(base, path.Ext(base))
		switch stem {
		case "config", "settings", "configuration":
			return true
		}
	}
	return false
}

var scalingMarkers = []string{"replicas", "autoscal", "min_instances", "max_instances", "minreplicas", "maxreplicas", "scale"}

func hasScalingConfig(in productionInput) bool {
	for key, value := range in.capsule.DeploymentConfig {
		probe := strings.ToLower(key + " " + value)
		for _, marker := range scalingMarkers {
			if strings.Contains(probe, marker) {
				return true
			}
		}
	}
	for p, content := range in.files {
		ext := strings.ToLower(path.Ext(p))
		if ext != ".yml" && ext != ".yaml" && ext != ".tf" && ext != ".json" {
			continue
		}
		lower := strings.ToLower(content)
		if strings.Contains(lower, "replicas") || strings.Contains(lower, "horizontalpodautoscaler") || strings.Contains(lower, "autoscaling") {
			return true
		}
	}
	return false
}
