package alloctrack

/* Splay tree based on:

   An implementation of top-down splaying
       D. Sleator <sleator@cs.cmu.edu>
               March 1992

   The splay operation works even if the item being splayed is not in
   the tree, and even if the tree is empty. If the key is present it
   is rotated to the root; otherwise the node put at the root is the
   last one before nil that would have been reached in a normal binary
   search, i.e. a neighbor of the key. Long-lived allocations show
   strongly non-uniform access patterns, which is exactly where the
   self-adjusting tree earns its amortized logarithmic bounds.
*/

func splay(root *Allocation, key uint64) *Allocation {
	if root == nil {
		return nil
	}

	var sentinel Allocation
	left := &sentinel
	right := &sentinel

	for {
		if key < root.address {
			if root.left == nil {
				break
			}
			if key < root.left.address {
				node := root.left // rotate right
				root.left = node.right
				node.right = root
				root = node
				if root.left == nil {
					break
				}
			}
			right.left = root // link right
			right = root
			root = root.left
		} else if key > root.address {
			if root.right == nil {
				break
			}
			if key > root.right.address {
				node := root.right // rotate left
				root.right = node.left
				node.left = root
				root = node
				if root.right == nil {
					break
				}
			}
			left.right = root // link left
			left = root
			root = root.right
		} else {
			break
		}
	}

	left.right = root.left // assemble
	right.left = root.right
	root.left = sentinel.right
	root.right = sentinel.left

	return root
}
