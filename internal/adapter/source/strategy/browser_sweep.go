package strategy

import (
	"github.com/shirou/gopsutil/v4/process"

	"github.com/davral/tidings/internal/logger"
)

// killOrphanProcesses terminates driver processes whose command line points
// into one of the leftover session directories. Inspection failures on
// individual processes are skipped silently; a process we cannot read is not
// ours to kill.
func killOrphanProcesses(dirs []string, log *logger.StyledLogger) int {
	procs, err := process.Processes()
	if err != nil {
		log.Debug("process scan unavailable", "error", err)
		return 0
	}

	killed := 0
	for _, p := range procs {
		name, err := p.Name()
		if err != nil || !isBrowserProcessName(name) {
			continue
		}
		args, err := p.CmdlineSlice()
		if err != nil || !sessionDirArg(args, dirs) {
			continue
		}

		if err := p.Terminate(); err != nil {
			if err := p.Kill(); err != nil {
				log.Debug("orphan browser process would not die", "pid", p.Pid, "error", err)
				continue
			}
		}
		killed++
	}
	return killed
}
