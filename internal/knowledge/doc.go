// Package knowledge searches the directory of external agents the guide can
// point users to.
package knowledge
