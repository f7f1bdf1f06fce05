// Package model defines the boundary types shared by every layer: account
// identities, record ids, content pointers and the structured error taxonomy.
//
// These are the only types intended for direct JSON serialization by API
// consumers; everything else is internal to its package.
package model
