// Package control
// Author: momentics <momentics@gmail.com>
//
// Runtime control layer of hioload-ajp: connector attribute store with
// reload listeners, request-group statistics exported to Prometheus, and
// debug probes for state inspection.
package control
