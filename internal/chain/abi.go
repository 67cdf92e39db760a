package chain

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// 合约 ABI（只包含本服务调用的方法）

const identityRegistryABI = `[
 {"type":"function","name":"registerPatient","stateMutability":"nonpayable","inputs":[],"outputs":[]},
 {"type":"function","name":"isRegistered","stateMutability":"view","inputs":[{"name":"user","type":"address"}],"outputs":[{"name":"","type":"bool"}]},
 {"type":"function","name":"getPatient","stateMutability":"view","inputs":[{"name":"patient","type":"address"}],
  "outputs":[{"name":"","type":"tuple","components":[
   {"name":"wallet","type":"address"},{"name":"registeredAt","type":"uint256"},{"name":"registered","type":"bool"}]}]},
 {"type":"function","name":"addMedicalRecord","stateMutability":"nonpayable","inputs":[
   {"name":"patient","type":"address"},{"name":"cid","type":"string"},{"name":"contentHash","type":"bytes32"},
   {"name":"diagnosisCode","type":"string"},{"name":"recordType","type":"string"}],"outputs":[]},
 {"type":"function","name":"getMedicalRecords","stateMutability":"view","inputs":[{"name":"patient","type":"address"}],
  "outputs":[{"name":"","type":"tuple[]","components":[
   {"name":"cid","type":"string"},{"name":"contentHash","type":"bytes32"},{"name":"hospital","type":"address"},
   {"name":"timestamp","type":"uint256"},{"name":"diagnosisCode","type":"string"},{"name":"recordType","type":"string"},
   {"name":"verified","type":"bool"}]}]}
]`

const accessControlABI = `[
 {"type":"function","name":"requestAccess","stateMutability":"nonpayable","inputs":[{"name":"patient","type":"address"},{"name":"accessType","type":"string"}],"outputs":[]},
 {"type":"function","name":"approveAccessRequest","stateMutability":"nonpayable","inputs":[{"name":"index","type":"uint256"}],"outputs":[]},
 {"type":"function","name":"rejectAccessRequest","stateMutability":"nonpayable","inputs":[{"name":"index","type":"uint256"}],"outputs":[]},
 {"type":"function","name":"grantAccess","stateMutability":"nonpayable","inputs":[
   {"name":"accessor","type":"address"},{"name":"accessType","type":"string"},{"name":"expiresAt","type":"uint256"}],"outputs":[]},
 {"type":"function","name":"revokeAccess","stateMutability":"nonpayable","inputs":[{"name":"accessor","type":"address"}],"outputs":[]},
 {"type":"function","name":"hasAccess","stateMutability":"view","inputs":[{"name":"patient","type":"address"},{"name":"accessor","type":"address"}],"outputs":[{"name":"","type":"bool"}]},
 {"type":"function","name":"getActiveAccessors","stateMutability":"view","inputs":[{"name":"patient","type":"address"}],"outputs":[{"name":"","type":"address[]"}]},
 {"type":"function","name":"getAccessGrant","stateMutability":"view","inputs":[{"name":"patient","type":"address"},{"name":"accessor","type":"address"}],
  "outputs":[{"name":"","type":"tuple","components":[
   {"name":"accessor","type":"address"},{"name":"accessType","type":"string"},{"name":"grantedAt","type":"uint256"},
   {"name":"expiresAt","type":"uint256"},{"name":"isGranted","type":"bool"}]}]},
 {"type":"function","name":"getPendingRequests","stateMutability":"view","inputs":[{"name":"patient","type":"address"}],
  "outputs":[{"name":"","type":"tuple[]","components":[
   {"name":"requester","type":"address"},{"name":"accessType","type":"string"},{"name":"requestedAt","type":"uint256"},{"name":"status","type":"uint8"}]}]},
 {"type":"function","name":"getAllRequests","stateMutability":"view","inputs":[{"name":"patient","type":"address"}],
  "outputs":[{"name":"","type":"tuple[]","components":[
   {"name":"requester","type":"address"},{"name":"accessType","type":"string"},{"name":"requestedAt","type":"uint256"},{"name":"status","type":"uint8"}]}]}
]`

const hospitalRegistryABI = `[
 {"type":"function","name":"registerHospital","stateMutability":"nonpayable","inputs":[{"name":"name","type":"string"},{"name":"licenseNumber","type":"string"}],"outputs":[]},
 {"type":"function","name":"whitelistHospital","stateMutability":"nonpayable","inputs":[{"name":"hospital","type":"address"}],"outputs":[]},
 {"type":"function","name":"isWhitelisted","stateMutability":"view","inputs":[{"name":"hospital","type":"address"}],"outputs":[{"name":"","type":"bool"}]},
 {"type":"function","name":"getHospitalInfo","stateMutability":"view","inputs":[{"name":"hospital","type":"address"}],
  "outputs":[{"name":"","type":"tuple","components":[
   {"name":"name","type":"string"},{"name":"licenseNumber","type":"string"},{"name":"whitelisted","type":"bool"},{"name":"registeredAt","type":"uint256"}]}]}
]`

// ERC-2771 forwarder（OpenZeppelin v5 ERC2771Forwarder 接口）
const forwarderABI = `[
 {"type":"function","name":"execute","stateMutability":"payable","inputs":[{"name":"request","type":"tuple","components":[
   {"name":"from","type":"address"},{"name":"to","type":"address"},{"name":"value","type":"uint256"},{"name":"gas","type":"uint256"},
   {"name":"deadline","type":"uint48"},{"name":"data","type":"bytes"},{"name":"signature","type":"bytes"}]}],"outputs":[]},
 {"type":"function","name":"nonces","stateMutability":"view","inputs":[{"name":"owner","type":"address"}],"outputs":[{"name":"","type":"uint256"}]}
]`

var (
	IdentityRegistryABI = mustParse(identityRegistryABI)
	AccessControlABI    = mustParse(accessControlABI)
	HospitalRegistryABI = mustParse(hospitalRegistryABI)
	ForwarderABI        = mustParse(forwarderABI)
)

func mustParse(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic("chain: invalid ABI definition: " + err.Error())
	}
	return parsed
}
