// Package core holds the donation domain: wallet resolution, GNAP grant
// coordination, payment resource creation and the pending grant store that
// links the two halves of an interactive donation. Adapters depend on core;
// core does not depend on any transport or storage adapter.
package core
