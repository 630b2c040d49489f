// Package brokersync keeps Mosquitto's password and ACL files in step
// with the credential store.
//
// A sync takes a snapshot of the store, renders both files, writes each
// one atomically, asks the broker to reload and finally records the
// outcome. Changes made while a sync is running stay pending for the
// next one.
//
//	syncer, err := brokersync.NewSyncer(brokersync.Config{
//	    PasswordFile: "/mosquitto/config/passwd",
//	    ACLFile:      "/mosquitto/config/acl",
//	}, brokersync.Deps{
//	    Source:   store,
//	    Status:   statusRepo,
//	    Admin:    admin,
//	    Writer:   brokersync.FileWriter{},
//	    Reloader: reloader,
//	})
//	result, err := syncer.Sync(ctx)
//
// Scheduler runs syncs in the background when changes are pending and
// on request.
package brokersync
