// Package http exposes the SafeHome web gate.
//
// Every route requires the two web passwords in the X-Password-1 and
// X-Password-2 headers. They are checked through the WEB interface login, so
// repeated failures lock the gate exactly like the browser form did; a locked
// gate answers 423 with a Retry-After header.
//
// Routes:
//   - GET /status: {"running","locked","mode","alarm_active","num_sensors","num_cameras","num_active_sensors"}.
//   - POST /arm: body {"mode"}; 409 with "open_sensors" when doors or windows are open.
//   - POST /disarm and POST /panic: 204 on success.
//   - POST /password: body {"password_1","password_2"} replaces the web passwords.
//   - GET /events: ?limit=&level= newest first.
//   - GET /cameras/{id}/view: PNG frame. The camera password, when one is set,
//     goes in X-Camera-Password.
//
// Request/response DTOs live alongside their respective handlers.
package http
