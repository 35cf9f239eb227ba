// Package log provides the structured logging abstraction used across meshrelay.
//
// Components depend on the [Logger] interface only. The zerolog adapter is the
// production implementation; [NoopLogger] is used by tests and by embedders that
// do not want output.
//
//	logger := log.NewZerologAdapter(log.LevelInfo)
//	link := logger.With(log.String("component", "link"))
//	link.Info("connected", log.String("addr", "192.168.2.144:4403"))
//
// Fields are typed helpers ([String], [Int], [Uint32], [Err], ...) so adapters can
// map them onto their native encoders without reflection.
package log
