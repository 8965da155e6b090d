package metrics

import "time"

// VerificationRun records a finished run. outcome is "completed" or "failed".
func VerificationRun(outcome string) {
	if !enabled {
		return
	}
	verificationRunsTotal.WithLabelValues(outcome).Inc()
}

// VerificationResult records one bytecode comparison.
func VerificationResult(kind, match string) {
	if !enabled {
		return
	}
	verificationResultsTotal.WithLabelValues(kind, match).Inc()
}

// Predeploy records a run classified as a predeploy.
func Predeploy() {
	if !enabled {
		return
	}
	predeployTotal.Inc()
}

// ArgsRederived records explorer constructor arguments being replaced.
func ArgsRederived() {
	if !enabled {
		return
	}
	argsRederivedTotal.Inc()
}

// ReplayDuration records how long a replay took. mode is "genesis" or a
// creation kind ("create", "create2-deployer").
func ReplayDuration(mode string, d time.Duration) {
	if !enabled {
		return
	}
	replayDuration.WithLabelValues(mode).Observe(d.Seconds())
}

// ArtifactLookup records where an artifact was served from: "cache",
// "output" or "build".
func ArtifactLookup(source string) {
	if !enabled {
		return
	}
	artifactLookupsTotal.WithLabelValues(source).Inc()
}
