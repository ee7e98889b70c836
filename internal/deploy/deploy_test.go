package deploy

import (
	"context"
	"errors"
	"testing"

	"github.com/lucasnoah/convoy/internal/config"
)

type mockRunner struct {
	stdout   string
	stderr   string
	exitCode int
	err      error
	ran      []string
}

func (m *mockRunner) Run(ctx context.Context, dir string, command string) (string, string, int, error) {
	m.ran = append(m.ran, command)
	return m.stdout, m.stderr, m.exitCode, m.err
}

func deployConfig() config.Deploy {
	return config.Deploy{
		StagingCommand:    "make deploy-staging",
		ProductionCommand: "make deploy-prod",
		Timeout:           "5m",
	}
}

func TestDeployStagingExtractsURL(t *testing.T) {
	runner := &mockRunner{stdout: "uploading...\ndeployed to https://staging.example.com/app\ndone\n"}
	d := NewExecDeployer(runner, "/repo", deployConfig(), nil)

	res := d.DeployStaging()

	if !res.Success {
		t.Fatalf("deploy failed: %+v", res)
	}
	if res.URL != "https://staging.example.com/app" {
		t.Errorf("url = %q", res.URL)
	}
	if len(runner.ran) != 1 || runner.ran[0] != "make deploy-staging" {
		t.Errorf("ran = %v", runner.ran)
	}
}

func TestDeploySucceedsWithoutURL(t *testing.T) {
	runner := &mockRunner{stdout: "ok\n"}
	d := NewExecDeployer(runner, "/repo", deployConfig(), nil)

	res := d.DeployProduction()

	if !res.Success {
		t.Fatalf("deploy failed: %+v", res)
	}
	if res.URL != "" {
		t.Errorf("url = %q", res.URL)
	}
}

func TestDeployNonZeroExit(t *testing.T) {
	runner := &mockRunner{stderr: "push rejected\n", exitCode: 1}
	d := NewExecDeployer(runner, "/repo", deployConfig(), nil)

	res := d.DeployStaging()

	if res.Success {
		t.Fatal("deploy succeeded despite non-zero exit")
	}
	if res.Error != "push rejected" {
		t.Errorf("error = %q", res.Error)
	}
}

func TestDeployExecError(t *testing.T) {
	runner := &mockRunner{err: errors.New("exec: sh not found")}
	d := NewExecDeployer(runner, "/repo", deployConfig(), nil)

	res := d.DeployProduction()

	if res.Success || res.Error != "exec: sh not found" {
		t.Errorf("result = %+v", res)
	}
}

func TestDeployMissingCommand(t *testing.T) {
	runner := &mockRunner{}
	d := NewExecDeployer(runner, "/repo", config.Deploy{}, nil)

	res := d.DeployStaging()

	if res.Success {
		t.Fatal("deploy succeeded without a command")
	}
	if len(runner.ran) != 0 {
		t.Errorf("commands ran: %v", runner.ran)
	}
}

func TestExtractURL(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"deployed https://a.example.com and https://b.example.com", "https://a.example.com"},
		{"https://x.example.com/path?v=1", "https://x.example.com/path?v=1"},
		{"http://insecure.example.com", ""},
		{"no url here", ""},
	}
	for _, c := range cases {
		if got := ExtractURL(c.in); got != c.want {
			t.Errorf("ExtractURL(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}
