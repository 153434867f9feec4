// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2024 Damian Peckett <damian@pecke.tt>.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package dataset

import (
	"fmt"
	"math"
	"math/rand"
)

// SplitRecords shuffles records with the given seed and holds out
// ceil(fraction * len(records)) of them for testing. The same records, seed
// and fraction always give the same partition.
func SplitRecords(records []string, fraction float64, seed int64) (train, test []string, err error) {
	if !(fraction > 0 && fraction < 1) {
		return nil, nil, fmt.Errorf("test fraction must be in (0, 1), got %g", fraction)
	}

	n := len(records)
	nTest := int(math.Ceil(fraction * float64(n)))

	perm := rand.New(rand.NewSource(seed)).Perm(n)

	test = make([]string, 0, nTest)
	for _, i := range perm[:nTest] {
		test = append(test, records[i])
	}
	train = make([]string, 0, n-nTest)
	for _, i := range perm[nTest:] {
		train = append(train, records[i])
	}

	return train, test, nil
}
