// Package process supervises a single long-running child process.
//
// The broker sync service uses it to run Mosquitto itself when
// broker.process.managed is set, so that reloads can be delivered as a
// SIGHUP to a PID the service owns.
//
// Features:
//   - Start/stop with SIGTERM then SIGKILL after a grace period
//   - Restart on failure with exponential backoff
//   - Signal delivery for configuration reloads
//   - Log capture from stdout/stderr
//
// Example usage:
//
//	mgr := process.NewManager(process.DefaultConfig(
//	    "mosquitto", "/usr/sbin/mosquitto",
//	    []string{"-c", "/mosquitto/config/mosquitto.conf"},
//	))
//	if err := mgr.Start(ctx); err != nil {
//	    return err
//	}
//	defer mgr.Stop()
//
//	_ = mgr.Signal(syscall.SIGHUP) // reload password and ACL files
package process
