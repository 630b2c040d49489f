// Package device reads the tracker's devices and their owners.
//
// The tables are owned by the tracker's management layer; this package
// only answers the questions credential provisioning asks: does a device
// exist, who owns it, what is it called and where can its owner be
// mailed.
//
//	dir := device.NewSQLiteDirectory(db.DB)
//	owner, err := dir.DeviceOwner(ctx, "42")
package device
