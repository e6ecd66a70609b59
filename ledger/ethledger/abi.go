package ethledger

// spendNoteABI holds the spend note methods of the registry contract.
const spendNoteABI = `[
  {"type":"function","name":"createSpendNote","stateMutability":"payable",
   "inputs":[{"name":"_noteHash","type":"bytes32"}],"outputs":[]},
  {"type":"function","name":"updateMerkleRoot","stateMutability":"nonpayable",
   "inputs":[{"name":"_newRoot","type":"bytes32"}],"outputs":[]},
  {"type":"function","name":"spendNote","stateMutability":"nonpayable",
   "inputs":[
     {"name":"_noteHash","type":"bytes32"},
     {"name":"_nullifier","type":"bytes32"},
     {"name":"_recipient","type":"address"},
     {"name":"_merkleProof","type":"bytes32[]"}],
   "outputs":[]},
  {"type":"function","name":"getSpendNote","stateMutability":"view",
   "inputs":[{"name":"_noteHash","type":"bytes32"}],
   "outputs":[{"name":"","type":"tuple","components":[
     {"name":"noteHash","type":"bytes32"},
     {"name":"amount","type":"uint256"},
     {"name":"spent","type":"bool"},
     {"name":"timestamp","type":"uint256"}]}]},
  {"type":"function","name":"totalSpendNotes","stateMutability":"view",
   "inputs":[],"outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"merkleRoot","stateMutability":"view",
   "inputs":[],"outputs":[{"name":"","type":"bytes32"}]},
  {"type":"function","name":"spentNullifiers","stateMutability":"view",
   "inputs":[{"name":"","type":"bytes32"}],"outputs":[{"name":"","type":"bool"}]},
  {"type":"event","name":"SpendNoteCreated","anonymous":false,"inputs":[
    {"name":"wallet","type":"address","indexed":true},
    {"name":"noteHash","type":"bytes32","indexed":false},
    {"name":"amount","type":"uint256","indexed":false},
    {"name":"timestamp","type":"uint256","indexed":false}]},
  {"type":"event","name":"MerkleRootUpdated","anonymous":false,"inputs":[
    {"name":"oldRoot","type":"bytes32","indexed":false},
    {"name":"newRoot","type":"bytes32","indexed":false},
    {"name":"timestamp","type":"uint256","indexed":false}]},
  {"type":"event","name":"NoteSpent","anonymous":false,"inputs":[
    {"name":"noteHash","type":"bytes32","indexed":true},
    {"name":"nullifier","type":"bytes32","indexed":false},
    {"name":"recipient","type":"address","indexed":false},
    {"name":"timestamp","type":"uint256","indexed":false}]}
]`
