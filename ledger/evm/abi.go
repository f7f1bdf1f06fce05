package evm

// ContractABI is the record contract's interface.
const ContractABI = `[
 {"type":"function","name":"mintPOAP","stateMutability":"nonpayable",
  "inputs":[{"name":"tokenURI","type":"string"}],"outputs":[]},
 {"type":"function","name":"updatePOAP","stateMutability":"nonpayable",
  "inputs":[{"name":"tokenId","type":"uint256"},{"name":"newTokenURI","type":"string"}],"outputs":[]},
 {"type":"function","name":"hasClaimed","stateMutability":"view",
  "inputs":[{"name":"user","type":"address"}],"outputs":[{"name":"","type":"bool"}]},
 {"type":"function","name":"ownerOf","stateMutability":"view",
  "inputs":[{"name":"tokenId","type":"uint256"}],"outputs":[{"name":"","type":"address"}]},
 {"type":"function","name":"owner","stateMutability":"view",
  "inputs":[],"outputs":[{"name":"","type":"address"}]},
 {"type":"function","name":"tokenURI","stateMutability":"view",
  "inputs":[{"name":"tokenId","type":"uint256"}],"outputs":[{"name":"","type":"string"}]},
 {"type":"event","name":"POAPMinted","anonymous":false,
  "inputs":[{"name":"user","type":"address","indexed":true},{"name":"tokenId","type":"uint256","indexed":false},{"name":"tokenURI","type":"string","indexed":false}]},
 {"type":"event","name":"POAPUpdated","anonymous":false,
  "inputs":[{"name":"tokenId","type":"uint256","indexed":false},{"name":"newTokenURI","type":"string","indexed":false}]}
]`
