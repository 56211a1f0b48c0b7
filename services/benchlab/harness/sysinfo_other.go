// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

//go:build !linux

package harness

import "errors"

var errPinUnsupported = errors.New("cpu pinning is only supported on linux")

func pinThread(int) (func(), error) {
	return nil, errPinUnsupported
}

func maxRSSKB() int64 { return 0 }
