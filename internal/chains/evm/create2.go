package evm

import (
	"github.com/ethereum/go-ethereum/common"
)

// Create2DeployerAddress is the canonical deterministic deployment proxy.
// Calling it with salt(32) || initcode deploys initcode via CREATE2 and
// returns the 20-byte address of the new contract.
var Create2DeployerAddress = common.HexToAddress("0x4e59b44847b379578588920ca78fbf26c0b4956c")

// Create2DeployerRuntimeCode is the runtime code found at Create2DeployerAddress.
var Create2DeployerRuntimeCode = common.FromHex("0x7fffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffe03601600081602082378035828234f58015156039578182fd5b8082525050506014600cf3")

// SaltLength is the size of the salt prefix in a deterministic deployer call.
const SaltLength = 32
