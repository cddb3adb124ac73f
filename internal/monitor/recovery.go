package monitor

import (
	"context"
	"fmt"
	"log"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Recoverer attempts to bring a down target back.
type Recoverer interface {
	Name() string
	Recover(ctx context.Context, target Target) error
}

// NoopRecoverer only records that recovery was due.
type NoopRecoverer struct{}

func (NoopRecoverer) Name() string { return "none" }

func (NoopRecoverer) Recover(_ context.Context, target Target) error {
	log.Printf("ℹ️  No automatic recovery configured for %s; manual restart required", target.Name)
	return nil
}

var gcloudName = regexp.MustCompile(`^[a-z0-9-]+$`)

// CommandRunner executes an external command and returns its combined output.
type CommandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// CloudRunRestarter forces a new Cloud Run revision by touching an env var.
// It is not modified once in use; WithLocation returns an updated copy.
type CloudRunRestarter struct {
	Project string
	Region  string
	Timeout time.Duration
	Run     CommandRunner
	now     func() time.Time
}

func NewCloudRunRestarter(project, region string) *CloudRunRestarter {
	return &CloudRunRestarter{
		Project: project,
		Region:  region,
		Timeout: 2 * time.Minute,
		Run:     execRunner,
		now:     time.Now,
	}
}

func (r *CloudRunRestarter) Name() string { return "gcloud" }

// WithLocation returns a copy of r targeting project and region.
func (r *CloudRunRestarter) WithLocation(project, region string) *CloudRunRestarter {
	next := *r
	next.Project = project
	next.Region = region
	return &next
}

// Args builds the gcloud argument list for target.
func (r *CloudRunRestarter) Args(target Target) ([]string, error) {
	service := target.CloudRunService
	if service == "" {
		service = target.Name
	}
	region := target.Region
	if region == "" {
		region = r.Region
	}
	if !gcloudName.MatchString(service) {
		return nil, fmt.Errorf("invalid cloud run service name %q", service)
	}
	if !gcloudName.MatchString(region) {
		return nil, fmt.Errorf("invalid cloud run region %q", region)
	}

	now := time.Now
	if r.now != nil {
		now = r.now
	}
	args := []string{"run", "services", "update", service, "--region", region}
	if r.Project != "" {
		if !gcloudName.MatchString(r.Project) {
			return nil, fmt.Errorf("invalid gcloud project %q", r.Project)
		}
		args = append(args, "--project", r.Project)
	}
	args = append(args, "--update-env-vars", "CHATTERFIX_RESTARTED_AT="+strconv.FormatInt(now().Unix(), 10))
	return args, nil
}

func (r *CloudRunRestarter) Recover(ctx context.Context, target Target) error {
	args, err := r.Args(target)
	if err != nil {
		return err
	}

	timeout := r.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	run := r.Run
	if run == nil {
		run = execRunner
	}
	log.Printf("🔄 Restarting Cloud Run service: gcloud %s", strings.Join(args, " "))
	out, err := run(ctx, "gcloud", args...)
	if err != nil {
		return fmt.Errorf("gcloud restart of %s failed: %w: %s", target.Name, err, strings.TrimSpace(string(out)))
	}
	log.Printf("✅ Cloud Run service %s restarted", target.Name)
	return nil
}
