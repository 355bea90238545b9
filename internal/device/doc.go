// Package device implements the device object store for the HAL daemon.
//
// The store is the central catalogue of every hardware device the daemon
// knows about. It owns two lists: the temporary device list (TDL) for
// devices still under construction by an OS backend, and the global device
// list (GDL) for published devices visible over IPC.
//
// # Architecture
//
//	┌────────────────────────────────────────────────────────────────────┐
//	│                           Device Store                             │
//	│                                                                    │
//	│  ┌───────────────┐   ┌────────────────┐   ┌─────────────────────┐  │
//	│  │    Store      │   │    Device      │   │     Validation      │  │
//	│  │  (store.go)   │──▶│  (device.go)   │   │   (validation.go)   │  │
//	│  │               │   │                │   │                     │  │
//	│  │ • GDL / TDL   │   │ • UDI, parent  │   │ • UDI shape         │  │
//	│  │ • commit      │   │ • ordered      │   │ • key shape         │  │
//	│  │ • async find  │   │   properties   │   │ • private keys      │  │
//	│  │ • change      │   └────────────────┘   └─────────────────────┘  │
//	│  │   batching    │                                                 │
//	│  └───────┬───────┘                                                 │
//	└──────────│─────────────────────────────────────────────────────────┘
//	           │ callbacks (PropertiesModified, GDLChanged, NewCapability)
//	           ▼
//	   bus adapter (internal/infrastructure/dbus)
//
// # Key Types
//
//   - Device: UDI, optional parent, ordered collection of typed properties
//   - Value: tagged union of string, int32, uint64, double, bool, strlist
//   - Store: both device lists, the pending-wait table, atomic update spans
//   - Change: a single observed property transition
//
// # Lifecycle
//
// A backend asks the store for a blank device (Store.NewDevice), fills in
// bus attributes, has the rule evaluator decorate it, and finally commits
// it under its computed UDI (Store.CommitToGDL). Committing publishes the
// device; destroying a published device emits the removal callback after
// the device is no longer discoverable.
//
// All operations must run on the daemon event loop; nothing in this
// package takes a lock.
package device
