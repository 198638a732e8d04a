package evmrpc

import (
	"io"
	"os"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

// ContractMap maps lower-cased contract addresses to display names. It is an
// optional local override consulted before the metadata service, so reports
// stay readable offline or for unverified contracts.
type ContractMap map[string]string

// NameOf returns the display name for an address, if one is mapped.
func (m ContractMap) NameOf(address string) (string, bool) {
	name, ok := m[strings.ToLower(address)]
	return name, ok
}

// AddContract maps an address to a display name.
func (m ContractMap) AddContract(address, name string) {
	m[strings.ToLower(address)] = name
}

// LoadContractMap reads an address-to-name TOML file. A missing file is not an
// error, it just yields an empty map.
func LoadContractMap(filename string) (ContractMap, error) {
	if filename == "" {
		return ContractMap{}, nil
	}
	tomlFile, err := os.Open(filename)
	if err != nil {
		return ContractMap{}, nil
	}
	defer tomlFile.Close()

	b, _ := io.ReadAll(tomlFile)
	rawContracts := map[string]string{}
	err = toml.Unmarshal(b, &rawContracts)
	if err != nil {
		return ContractMap{}, err
	}

	contracts := ContractMap{}
	for k, v := range rawContracts {
		contracts[strings.ToLower(k)] = v
	}

	return contracts, nil
}
