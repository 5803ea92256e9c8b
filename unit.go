// SPDX-License-Identifier: GPL-3.0-or-later

package framenet

// Unit is a type not containing any value (analogous to an
// explicit `void` type in C and C++).
//
// Use it with [ExecuteWithTimeout] and [Func] for operations that
// return no value.
type Unit struct{}
