// Package obs drives the libobs engine from Go.
//
// libobs is single threaded: every call into it must come from the thread
// that started it. A Runtime owns one engine and one executor goroutine,
// locked to its OS thread, that runs every engine call. Other goroutines
// submit commands and wait for their results:
//
//	rt, err := obs.New(obs.DefaultEngineConfig())
//	if err != nil {
//		return err
//	}
//	defer rt.Close()
//
//	name, err := obs.Submit(rt, func(e *obs.Engine) (string, error) {
//		return e.Backend(), nil
//	})
//
// Commands run one at a time in submission order. A command submitted from
// inside another command (or from a signal subscriber) runs in place instead
// of deadlocking on the queue.
//
// # Resources
//
// Sources, faders and volmeters are reference counted handles. Their native
// objects are created and destroyed on the executor; the last Close queues
// the destructor. Each resource holds its own runtime handle, so the runtime
// stays up until every resource is closed or Shutdown is called explicitly.
//
// # Signals
//
// Signals.Subscribe connects a callback to a native signal. Callbacks always
// run on the executor goroutine; a signal the engine fires from one of its
// own threads is re-posted as a command.
//
// # Backends
//
// The native backend loads libobs at run time through purego, so the package
// builds with CGO_ENABLED=0. Set OBS_LIB_PATH to the directory that holds
// libobs, or OBS_LIBRARY to the library file. The software backend is an
// in-process engine with the same object model, used when libobs is not
// installed and in tests.
package obs
