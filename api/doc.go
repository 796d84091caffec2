/*
Package api exposes the election ceremony console over HTTP.

The console API lives under /api/ceremony and mirrors the operator screens:

  - GET  /status                 ceremony stage, rosters and application state
  - PUT  /election               load the election draft
  - POST /setup-keys             configure trustees and create the election
  - GET  /keys, /encrypters      roster listing and next participant
  - POST /setup-encrypters       set the number of encryption drives
  - POST /devices/present        a smartcard or drive was inserted
  - POST /devices/removed        a smartcard or drive was removed
  - POST /save/{cohort}          retry the write for the inserted device
  - GET  /ready                  200 once the ceremony is complete, 409 before
  - GET  /screen/*               resolve a console route
  - POST /reset                  discard the ceremony and the application state

Domain errors are mapped to status codes: invalid input is 400, unknown routes
and participants are 404, operations out of order are 409 and failures of the
creation service or of a device write are 502.

The Server adds the health endpoints (/livez, /readyz, /drain, /undrain), an
optional pprof mount and a separate Prometheus metrics listener. Client is the
Go client used by the ceremonyctl command.
*/
package api
