package goble

// KnownPeers returns the number of remembered platform addresses.
func (b *Backend) KnownPeers() int {
	return b.peers.Len()
}
