package procs

import (
	"context"
	"os"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/blackwell-systems/idreset/internal/paths"
)

func TestRunning(t *testing.T) {
	s := &Snapshot{pids: map[string][]int32{}}
	s.add("Code.exe", 40)
	s.add("code", 12)
	s.add("code", 7)
	s.add("/usr/bin/goland", 99)
	s.add("bash", 1)

	got := s.Running(paths.VSCode)
	want := []Match{
		{Family: "vscode", Name: "Code.exe", PID: 40},
		{Family: "vscode", Name: "code", PID: 7},
		{Family: "vscode", Name: "code", PID: 12},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Running(vscode) mismatch (-want +got):\n%s", diff)
	}

	jb := s.Running(paths.JetBrains)
	if len(jb) != 1 || jb[0].Name != "goland" || jb[0].PID != 99 {
		t.Errorf("Running(jetbrains) = %+v", jb)
	}

	if got := s.Running(paths.Family{ID: "none"}); len(got) != 0 {
		t.Errorf("Running() with no process names = %+v", got)
	}
}

func TestTakeSeesCurrentProcess(t *testing.T) {
	s, err := Take(context.Background())
	if err != nil {
		t.Skipf("process listing unavailable: %v", err)
	}
	if s.Count() == 0 {
		t.Skip("process listing returned nothing")
	}

	pid := int32(os.Getpid())
	for _, pids := range s.pids {
		for _, p := range pids {
			if p == pid {
				return
			}
		}
	}
	t.Errorf("snapshot of %d names does not include pid %d", s.Count(), pid)
}
