// Copyright (c) 2025
// Author: momentics <momentics@gmail.com>

// Package reactor provides the readiness reactor used to watch parked AJP
// connections: epoll on Linux, an unsupported stub elsewhere.
package reactor
