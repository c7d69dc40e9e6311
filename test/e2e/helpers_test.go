package e2e

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

const (
	startupTimeout = 10 * time.Second
	pollInterval   = 100 * time.Millisecond
)

const instance = `{"name":"e2e","strip":{"Height":20},"items":[
  {"Demand":6,"AllowedOrientations":[0,90],"Shape":{"Type":"Rectangle","Data":[[5,3]]}},
  {"Demand":4,"AllowedOrientations":[0,90,180,270],"Shape":{"Type":"SimplePolygon","Data":[[0,0],[6,0],[3,4]]}},
  {"Demand":2,"Shape":{"Type":"Polygon","Data":[[0,0],[4,0],[4,4],[0,4]]}}
]}`

func request(extra string) string {
	return `{"instance":` + instance + extra + `}`
}

// lockedBuffer is a thread-safe wrapper around bytes.Buffer.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (lb *lockedBuffer) Write(p []byte) (int, error) {
	lb.mu.Lock()
	defer lb.mu.Unlock()
	return lb.buf.Write(p)
}

func (lb *lockedBuffer) String() string {
	lb.mu.Lock()
	defer lb.mu.Unlock()
	return lb.buf.String()
}

var (
	buildDir  string
	buildOnce sync.Once
	buildErr  error
)

// getBinary builds the named command once per test binary.
func getBinary(t *testing.T, name string) string {
	t.Helper()
	buildOnce.Do(func() {
		buildDir, buildErr = os.MkdirTemp("", "nester-e2e-*")
		if buildErr != nil {
			return
		}
		root := findRepoRoot(t)
		for _, cmdName := range []string{"nester", "nester-run"} {
			cmd := exec.Command("go", "build", "-o", filepath.Join(buildDir, cmdName), "./cmd/"+cmdName)
			cmd.Dir = root
			if out, err := cmd.CombinedOutput(); err != nil {
				buildErr = fmt.Errorf("go build %s failed: %w\n%s", cmdName, err, out)
				return
			}
		}
	})
	if buildErr != nil {
		t.Fatal(buildErr)
	}
	return filepath.Join(buildDir, name)
}

func findRepoRoot(t *testing.T) string {
	t.Helper()
	dir, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			t.Fatal("could not find repo root")
		}
		dir = parent
	}
}
