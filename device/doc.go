// Package device moves participant payloads onto removable media.
//
// A DirectoryMediator writes onto a mounted drive (or a directory emulating a
// smartcard) and confirms the write by reading it back. A Watcher observes the
// media root with fsnotify and turns mounts appearing and disappearing into
// interfaces.DeviceEvent values for the participant it was armed for.
// A Simulator stands in for real hardware in tests and demos.
package device
