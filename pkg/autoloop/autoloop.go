package autoloop

import (
	"fmt"
	"os"
	"os/exec"
	"path"

	"go.uber.org/zap"

	"pi-timelapse/pkg/storage/consts"
	"pi-timelapse/pkg/storage/util"
	"pi-timelapse/pkg/utils"
)

var logger *zap.SugaredLogger

func init() {
	logger = utils.GetLogger()
}

// Launcher starts the next session with its combined output in logPath.
type Launcher interface {
	Launch(logPath string) error
}

// ProcessLauncher re-executes the running binary as an independent process.
// The child loads its own configuration and is never waited on.
type ProcessLauncher struct {
	Path string
	Args []string
	Dir  string
}

func NewProcessLauncher(args []string) (*ProcessLauncher, error) {
	exe, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("find executable err: %w", err)
	}
	dir, err := os.Getwd()
	if err != nil {
		return nil, err
	}

	return &ProcessLauncher{Path: exe, Args: args, Dir: dir}, nil
}

func (p *ProcessLauncher) Launch(logPath string) error {
	f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, consts.DefaultFilePerm)
	if err != nil {
		return fmt.Errorf("open log file err: %w", err)
	}
	// the child keeps its own descriptor
	defer f.Close()

	cmd := exec.Command(p.Path, p.Args...)
	cmd.Dir = p.Dir
	cmd.Stdout = f
	cmd.Stderr = f
	cmd.SysProcAttr = detached()
	if err = cmd.Start(); err != nil {
		return fmt.Errorf("start %s err: %w", p.Path, err)
	}
	logger.Infof("started next session as pid %d, logging to %s", cmd.Process.Pid, logPath)

	return cmd.Process.Release()
}

type Supervisor struct {
	logsDir  string
	launcher Launcher
}

func NewSupervisor(logsDir string, launcher Launcher) *Supervisor {
	return &Supervisor{logsDir: logsDir, launcher: launcher}
}

// Handoff launches the session that follows sessionID. Its log file is
// named after sessionID.
func (s *Supervisor) Handoff(sessionID string) error {
	if err := util.MkdirAll(s.logsDir); err != nil {
		return fmt.Errorf("create logs dir err: %w", err)
	}

	return s.launcher.Launch(LogPath(s.logsDir, sessionID))
}

func LogPath(logsDir, sessionID string) string {
	return path.Join(logsDir, sessionID+consts.LogSuffix)
}
