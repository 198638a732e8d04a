package evmrpc

import (
	"strings"
	"sync"
)

// SignatureTable maps 4-byte selectors and 32-byte event topics to canonical
// signature strings such as "transfer(address,uint256)". It is seeded with the
// well-known ERC-20/ERC-721 surface and grows as selectors are computed from
// verified ABIs during a session.
type SignatureTable struct {
	mu        sync.RWMutex
	selectors map[string]string
	topics    map[string]string
}

// wellKnownSelectors covers ERC-20 and ERC-721 so common token traffic is
// readable even when no verified ABI is available.
var wellKnownSelectors = map[string]string{
	"0xa9059cbb": "transfer(address,uint256)",
	"0x095ea7b3": "approve(address,uint256)",
	"0x23b872dd": "transferFrom(address,address,uint256)",
	"0x70a08231": "balanceOf(address)",
	"0xdd62ed3e": "allowance(address,address)",
	"0x18160ddd": "totalSupply()",
	"0x06fdde03": "name()",
	"0x95d89b41": "symbol()",
	"0x313ce567": "decimals()",
	"0x6352211e": "ownerOf(uint256)",
	"0x42842e0e": "safeTransferFrom(address,address,uint256)",
	"0xb88d4fde": "safeTransferFrom(address,address,uint256,bytes)",
	"0x081812fc": "getApproved(uint256)",
	"0xa22cb465": "setApprovalForAll(address,bool)",
	"0xe985e9c5": "isApprovedForAll(address,address)",
	"0xc87b56dd": "tokenURI(uint256)",
	"0x01ffc9a7": "supportsInterface(bytes4)",
}

var wellKnownTopics = map[string]string{
	"0xddf252ad1be2c89b69c2b068fc378daa952ba7f163c4a11628f55a4df523b3ef": "Transfer(address,address,uint256)",
	"0x8c5be1e5ebec7d5bd14f71427d1e84f3dd0314c0f7b2291e5b200ac8c7c3b925": "Approval(address,address,uint256)",
	"0x17307eab39ab6107e8899845ad3d59bd9653f200f220920489ca2b5937696c31": "ApprovalForAll(address,address,bool)",
}

func NewSignatureTable() *SignatureTable {
	st := &SignatureTable{
		selectors: make(map[string]string, len(wellKnownSelectors)),
		topics:    make(map[string]string, len(wellKnownTopics)),
	}
	for sel, sig := range wellKnownSelectors {
		st.selectors[sel] = sig
	}
	for topic, sig := range wellKnownTopics {
		st.topics[topic] = sig
	}
	return st
}

// AddSelector registers a function signature for a selector.
func (s *SignatureTable) AddSelector(selector, signature string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.selectors[strings.ToLower(selector)] = signature
}

// AddTopic registers an event signature for a topic.
func (s *SignatureTable) AddTopic(topic, signature string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.topics[strings.ToLower(topic)] = signature
}

// LookupSelector returns the canonical signature for a selector, if known.
func (s *SignatureTable) LookupSelector(selector string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sig, ok := s.selectors[strings.ToLower(selector)]
	return sig, ok
}

// LookupTopic returns the canonical event signature for a topic, if known.
func (s *SignatureTable) LookupTopic(topic string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sig, ok := s.topics[strings.ToLower(topic)]
	return sig, ok
}

// ParseSignature splits a canonical signature string into the function name
// and its top-level parameter types. Nested tuples are not supported, which
// matches the word-aligned decoder this table feeds.
func ParseSignature(signature string) (name string, paramTypes []string, ok bool) {
	open := strings.Index(signature, "(")
	if open <= 0 || !strings.HasSuffix(signature, ")") {
		return "", nil, false
	}
	name = signature[:open]
	inner := signature[open+1 : len(signature)-1]
	if inner == "" {
		return name, nil, true
	}
	for _, p := range strings.Split(inner, ",") {
		p = strings.TrimSpace(p)
		if p == "" || strings.Contains(p, "(") {
			return "", nil, false
		}
		paramTypes = append(paramTypes, p)
	}
	return name, paramTypes, true
}
