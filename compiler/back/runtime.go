package back

import (
	"github.com/nikandfor/hacked/hfmt"

	"github.com/cmmlang/cmm/compiler/ir"
)

// appendRuntime emits the built in io routines and their helpers.
// input reads a decimal integer from stdin, output prints one with a
// trailing newline. Both follow the same stack convention as user
// functions. Everything else is reached through plain registers.
func appendRuntime(b []byte) []byte {
	return append(b, `
input:
    push rbp
    mov rbp, rsp
    xor rdi, rdi
    lea rsi, [input_buffer]
    mov rdx, 64
    call read
    test rax, rax
    jle .empty
    lea rdi, [input_buffer]
    call atoi
    jmp .done
.empty:
    xor rax, rax
.done:
    mov rsp, rbp
    pop rbp
    ret

output:
    push rbp
    mov rbp, rsp
    mov rax, [rbp+16]
    lea rdi, [output_buffer]
    call itoa
    mov rdi, 1
    call write
    mov rsp, rbp
    pop rbp
    ret

; rdi: fd, rsi: buffer, rdx: capacity, returns rax: bytes read
read:
    xor rax, rax
    syscall
    ret

; rdi: fd, rsi: text, rdx: length
write:
    mov rax, 1
    syscall
    ret

; rdi: status, does not return
exit:
    mov rax, 60
    syscall

; rdi: buffer, returns rax: parsed value
atoi:
    xor rax, rax
    xor rcx, rcx
    movzx rdx, byte [rdi]
    cmp rdx, '-'
    jne .loop
    mov rcx, 1
    inc rdi
.loop:
    movzx rdx, byte [rdi]
    cmp rdx, '0'
    jb .done
    cmp rdx, '9'
    ja .done
    imul rax, 10
    sub rdx, '0'
    add rax, rdx
    inc rdi
    jmp .loop
.done:
    test rcx, rcx
    jz .ret
    neg rax
.ret:
    ret

; rax: value, rdi: buffer, returns rsi: text, rdx: length
itoa:
    lea rsi, [rdi+63]
    mov byte [rsi], 10
    mov r9, 1
    xor r8, r8
    test rax, rax
    jns .digits
    mov r8, 1
    call abs
.digits:
    mov rcx, 10
.next:
    xor rdx, rdx
    div rcx
    add rdx, '0'
    dec rsi
    mov [rsi], dl
    inc r9
    test rax, rax
    jnz .next
    test r8, r8
    jz .done
    dec rsi
    mov byte [rsi], '-'
    inc r9
.done:
    mov rdx, r9
    ret

; rax: value, returns rax: absolute value
abs:
    test rax, rax
    jns .done
    neg rax
.done:
    ret

; rdi: base, rsi: exponent, returns rax: base raised to the exponent
power:
    mov rax, 1
.loop:
    test rsi, rsi
    jz .done
    imul rax, rdi
    dec rsi
    jmp .loop
.done:
    ret

; rsi: message, rdx: length, does not return
runtime_error:
    mov rdi, 2
    call write
    mov rdi, 1
    call exit

div_by_zero:
    lea rsi, [msg_div_zero]
    mov rdx, msg_div_zero_len
    jmp runtime_error
`...)
}

// appendData reserves the io buffers and the file scope variables.
func appendData(b []byte, globals []ir.Global) []byte {
	b = append(b, `
section .data
msg_div_zero: db "runtime error: division by zero", 10
msg_div_zero_len equ $ - msg_div_zero

section .bss
input_buffer: resb 64
output_buffer: resb 64
`...)

	for _, g := range globals {
		n := g.Size
		if n == 0 {
			n = 1
		}

		b = hfmt.Appendf(b, "v$%s: resq %d\n", g.Name, n)
	}

	return b
}
