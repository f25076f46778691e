package targets

import (
	"github.com/lysyi3m/gh-harvest/app/harvest"
)

const defaultMinDate = "2021-01-01"

var incidentErrorIndicators = []string{
	"error", "fail", "crash", "exception", "timeout", "refused",
	"denied", "not working", "broken", "issue", "problem", "bug",
	"stack trace",
}

var discussionErrorIndicators = []string{
	"error", "fail", "crash", "exception", "timeout",
	"not working", "broken", "issue", "problem", "help",
	"how to fix", "how do i", "why does", "doesn't work",
}

var stackOverflowErrorIndicators = []string{
	"error", "fail", "exception", "crash", "timeout",
	"not working", "broken", "issue", "problem",
	"unable to", "cannot", "can't", "doesn't work",
	"refused", "denied", "rejected", "invalid",
}

// DefaultConfigs returns the built-in catalog, one config per kind.
func DefaultConfigs() map[harvest.Kind]*Config {
	return map[harvest.Kind]*Config{
		harvest.KindIssues:         defaultIssues(),
		harvest.KindDiscussions:    defaultDiscussions(),
		harvest.KindReviewComments: defaultReviewComments(),
		harvest.KindStackOverflow:  defaultStackOverflow(),
	}
}

func defaultIssues() *Config {
	return &Config{
		Kind:     harvest.KindIssues,
		Settings: ConfigSettings{Enabled: true, PerPage: 100, MaxItems: 300, Since: defaultMinDate},
		Filter: harvest.FilterConfig{
			MinProblemLength:  100,
			MinSolutionLength: 50,
			ErrorIndicators:   incidentErrorIndicators,
			SkipTitlePatterns: []string{"feature request", "enhancement", "proposal", "[rfc]"},
			MinDate:           defaultMinDate,
		},
		Technologies: []ConfigTechnology{
			{Name: "kubernetes", Targets: []string{"kubernetes/kubernetes", "kubernetes/minikube", "kubernetes/kubectl"}},
			{Name: "docker", Targets: []string{"docker/compose", "docker/cli", "moby/moby"}},
			{Name: "terraform", Targets: []string{"hashicorp/terraform", "hashicorp/terraform-provider-aws", "hashicorp/terraform-provider-azurerm", "hashicorp/terraform-provider-google"}},
			{Name: "azure", Targets: []string{"Azure/azure-cli", "Azure/azure-sdk-for-python", "Azure/azure-functions-python-worker"}},
			{Name: "gcp", Targets: []string{"googleapis/google-cloud-python", "GoogleCloudPlatform/python-docs-samples"}},
			{Name: "nodejs", Targets: []string{"nodejs/node", "vercel/next.js", "expressjs/express"}},
			{Name: "redis", Targets: []string{"redis/redis", "redis/redis-py"}},
			{Name: "mongodb", Targets: []string{"mongodb/mongo", "mongodb/mongo-python-driver"}},
			{Name: "nginx", Targets: []string{"nginx/nginx", "nginxinc/kubernetes-ingress"}},
			{Name: "postgresql", Targets: []string{"postgres/postgres", "psycopg/psycopg2"}},
			{Name: "influxdb", Targets: []string{"influxdata/influxdb", "influxdata/telegraf"}},
		},
	}
}

func defaultDiscussions() *Config {
	return &Config{
		Kind:     harvest.KindDiscussions,
		Settings: ConfigSettings{Enabled: true, PerPage: 50, MaxItems: 200},
		Filter: harvest.FilterConfig{
			MinProblemLength:  100,
			MinSolutionLength: 50,
			ErrorIndicators:   discussionErrorIndicators,
			SkipCategories:    []string{"announcement", "show", "ideas", "rfc"},
			MinDate:           defaultMinDate,
		},
		Technologies: []ConfigTechnology{
			{Name: "kubernetes", Targets: []string{"kubernetes/kubernetes", "kubernetes/minikube"}},
			{Name: "docker", Targets: []string{"docker/compose"}},
			{Name: "terraform", Targets: []string{"hashicorp/terraform"}},
			{Name: "nodejs", Targets: []string{"vercel/next.js", "nodejs/node"}},
			{Name: "azure", Targets: []string{"Azure/azure-cli"}},
			{Name: "nginx", Targets: []string{"nginxinc/kubernetes-ingress"}},
		},
	}
}

func defaultReviewComments() *Config {
	return &Config{
		Kind:     harvest.KindReviewComments,
		Settings: ConfigSettings{Enabled: true, PerPage: 100, MaxItems: 2000},
		Filter: harvest.FilterConfig{
			MinSolutionLength: 50,
			MaxSolutionLength: 2000,
			SkipPrefixes: []string{
				"lgtm", "looks good", "nit:", "nit ", "+1", "thanks!",
				"thank you", "nice!", "great!", "awesome", "ship it", "approved",
			},
			SkipPrefixMaxLength: 100,
			FileExtensions:      []string{".py"},
		},
		Technologies: []ConfigTechnology{
			{Name: "python", Targets: []string{
				"fastapi/fastapi", "pydantic/pydantic", "psf/requests", "encode/httpx", "astral-sh/ruff",
				"tiangolo/sqlmodel", "pallets/flask", "django/django", "pytorch/pytorch", "huggingface/transformers",
			}},
		},
	}
}

func defaultStackOverflow() *Config {
	return &Config{
		Kind:     harvest.KindStackOverflow,
		Settings: ConfigSettings{Enabled: true, PerPage: 100, MaxItems: 150, Since: defaultMinDate},
		Filter: harvest.FilterConfig{
			MinProblemLength:  100,
			MinSolutionLength: 100,
			ErrorIndicators:   stackOverflowErrorIndicators,
			MinScore:          1,
			MinDate:           defaultMinDate,
		},
		Technologies: []ConfigTechnology{
			{Name: "kubernetes", Targets: []string{"kubernetes", "k8s", "kubectl", "minikube", "helm"}},
			{Name: "docker", Targets: []string{"docker", "docker-compose", "dockerfile", "docker-swarm"}},
			{Name: "terraform", Targets: []string{"terraform", "terraform-provider-aws", "terraform-provider-azure", "hcl"}},
			{Name: "azure", Targets: []string{"azure", "azure-devops", "azure-functions", "azure-cli"}},
			{Name: "gcp", Targets: []string{"google-cloud-platform", "gcloud", "google-cloud-functions", "bigquery"}},
			{Name: "nodejs", Targets: []string{"node.js", "express", "npm", "nestjs"}},
			{Name: "redis", Targets: []string{"redis", "redis-cluster", "redis-sentinel"}},
			{Name: "mongodb", Targets: []string{"mongodb", "mongoose", "mongodb-query", "pymongo"}},
			{Name: "nginx", Targets: []string{"nginx", "nginx-config", "nginx-reverse-proxy", "nginx-ingress"}},
			{Name: "postgresql", Targets: []string{"postgresql", "psycopg2", "postgres", "plpgsql"}},
			{Name: "influxdb", Targets: []string{"influxdb", "influxdb-2", "telegraf", "flux"}},
		},
	}
}
