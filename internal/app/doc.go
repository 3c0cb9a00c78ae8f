// Package app builds the license engine process and manages its lifecycle.
//
// NewApplication wires every component once, explicitly:
//
//  1. Load configuration from defaults, YAML and the environment
//  2. Initialize logging and OpenTelemetry
//  3. Create the settings store, activator and license manager
//  4. Attach the core controller and load the persisted license
//  5. Create the event hub, settings watcher and reminder
//  6. Build the bridge API router and HTTP server
//
// Start listens, starts the background services and runs the app start and
// core start hooks. Stop reverses it. Run does both around SIGINT/SIGTERM.
//
//	application, err := app.NewApplication(nil)
//	if err != nil {
//	    return err
//	}
//	return application.Run()
//
// The package never calls os.Exit.
package app
