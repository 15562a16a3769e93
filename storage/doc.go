// Package storage provides the backend interface for persistent gateway
// data.
//
// The Store interface is a plain key-value contract. The history
// subpackage implements it on LevelDB and layers resource value history on
// top: every DATA notification delivered to a history.Store is kept under
//
//	provider/service/resource/<timestamp>
//
// so the latest value and time ranges of a resource can be read back.
package storage
