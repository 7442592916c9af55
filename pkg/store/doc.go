// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-passwordless.
//
// go-passwordless is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

// Package store defines the records owned by the passwordless subsystem
// (challenges, credentials, magic links and sessions), the read contract
// for externally owned accounts, and the persistence interfaces the
// ceremony packages depend on.
//
// Two implementations are provided: store/kv over a storage.Backend and
// store/sql over gorm. Both guarantee that Consume operations are atomic
// compare-and-set transitions of the used-at timestamp, and that the
// Complete operations commit a ceremony's side effects together with the
// challenge consumption or not at all.
package store
