package fork

import (
	"math/big"

	"github.com/ethereum/go-ethereum/params"

	"github.com/pendergraft/codeproof/internal/chains/evm"
)

// Levels as ordered by evm.EVMVersionLevel.
const (
	levelTangerineWhistle = 1
	levelSpuriousDragon   = 2
	levelByzantium        = 3
	levelConstantinople   = 4
	levelPetersburg       = 5
	levelIstanbul         = 6
	levelBerlin           = 7
	levelLondon           = 8
	levelParis            = 9
	levelShanghai         = 10
	levelCancun           = 11
	levelPrague           = 12
)

// ChainConfig returns a chain config with every fork up to and including
// evmVersion active from genesis.
func ChainConfig(evmVersion string, chainID *big.Int) (*params.ChainConfig, error) {
	level, err := evm.EVMVersionLevel(evmVersion)
	if err != nil {
		return nil, err
	}
	if chainID == nil {
		chainID = big.NewInt(1)
	}

	zero := big.NewInt(0)
	ts := uint64(0)
	c := &params.ChainConfig{
		ChainID:        new(big.Int).Set(chainID),
		HomesteadBlock: zero,
	}

	if level >= levelTangerineWhistle {
		c.EIP150Block = zero
	}
	if level >= levelSpuriousDragon {
		c.EIP155Block = zero
		c.EIP158Block = zero
	}
	if level >= levelByzantium {
		c.ByzantiumBlock = zero
	}
	if level >= levelConstantinople {
		c.ConstantinopleBlock = zero
	}
	if level >= levelPetersburg {
		c.PetersburgBlock = zero
	}
	if level >= levelIstanbul {
		c.IstanbulBlock = zero
	}
	if level >= levelBerlin {
		c.BerlinBlock = zero
	}
	if level >= levelLondon {
		c.LondonBlock = zero
	}
	if level >= levelParis {
		c.TerminalTotalDifficulty = zero
	}
	if level >= levelShanghai {
		c.ShanghaiTime = &ts
	}
	if level >= levelCancun {
		c.CancunTime = &ts
	}
	if level >= levelPrague {
		c.PragueTime = &ts
	}
	return c, nil
}

// postMerge reports whether blocks under this EVM version carry prevrandao
// instead of difficulty.
func postMerge(evmVersion string) bool {
	level, err := evm.EVMVersionLevel(evmVersion)
	return err == nil && level >= levelParis
}

func hasBaseFee(evmVersion string) bool {
	level, err := evm.EVMVersionLevel(evmVersion)
	return err == nil && level >= levelLondon
}

// blobBaseFee derives the blob base fee from the excess blob gas of a block.
func blobBaseFee(evmVersion string, excessBlobGas *uint64) *big.Int {
	if excessBlobGas == nil || *excessBlobGas == 0 {
		return big.NewInt(1)
	}
	fraction := big.NewInt(3338477)
	if level, err := evm.EVMVersionLevel(evmVersion); err == nil && level >= levelPrague {
		fraction = big.NewInt(5007716)
	}
	return fakeExponential(big.NewInt(1), new(big.Int).SetUint64(*excessBlobGas), fraction)
}

// fakeExponential approximates factor * e^(numerator/denominator) (EIP-4844).
func fakeExponential(factor, numerator, denominator *big.Int) *big.Int {
	i := big.NewInt(1)
	output := new(big.Int)
	accum := new(big.Int).Mul(factor, denominator)
	for accum.Sign() > 0 {
		output.Add(output, accum)
		accum.Mul(accum, numerator)
		accum.Div(accum, new(big.Int).Mul(denominator, i))
		i.Add(i, big.NewInt(1))
	}
	return output.Div(output, denominator)
}
